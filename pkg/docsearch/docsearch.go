// Package docsearch provides unified full-text and vector search over
// document collections stored in SQLite or PostgreSQL.
package docsearch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/liliang-cn/docsearch/pkg/core"
)

// Convenience aliases so callers rarely need to import pkg/core directly.
type (
	// Document is a stored document view.
	Document = core.Document
	// QueryResult is the {total, results} envelope.
	QueryResult = core.QueryResult
	// QueryOptions control filtering, ordering and pagination.
	QueryOptions = core.QueryOptions
)

// DB is a handle to a backing store. Collections opened from the same DB
// share one physical document table.
type DB struct {
	adapter core.Adapter
	logger  *zap.SugaredLogger
}

// Option configures a DB handle.
type Option func(*DB)

// WithLogger attaches a logger for provisioning and read-path diagnostics.
// The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(db *DB) {
		db.logger = logger.Sugar()
	}
}

// Open connects to the store identified by databaseURL:
//
//   - an empty URL opens the embedded backend at the default file path;
//   - a "sqlite:///PATH" URL opens the embedded backend at PATH;
//   - any other URL opens the server backend, with the URL fields re-encoded
//     as the driver's native connection string.
func Open(databaseURL string, opts ...Option) (*DB, error) {
	db := &DB{logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(db)
	}

	switch {
	case databaseURL == "":
		adapter, err := core.NewSQLiteAdapter(core.DefaultSQLitePath, db.logger)
		if err != nil {
			return nil, err
		}
		db.adapter = adapter
	case strings.HasPrefix(databaseURL, "sqlite:///"):
		adapter, err := core.NewSQLiteAdapter(strings.TrimPrefix(databaseURL, "sqlite:///"), db.logger)
		if err != nil {
			return nil, err
		}
		db.adapter = adapter
	default:
		dsn, err := urlToDSN(databaseURL)
		if err != nil {
			return nil, err
		}
		adapter, err := core.NewPostgresAdapter(dsn, db.logger)
		if err != nil {
			return nil, err
		}
		db.adapter = adapter
	}
	return db, nil
}

// CollectionOption configures a collection handle.
type CollectionOption func(*core.Config)

// WithEmbedder attaches an embedding provider. Every added document is
// embedded, and vector search becomes available.
func WithEmbedder(e Embedder) CollectionOption {
	return func(cfg *core.Config) {
		cfg.Embed = e.EmbedBatch
	}
}

// WithEmbedFunc attaches a bare embedding function instead of an Embedder.
func WithEmbedFunc(fn core.EmbedFunc) CollectionOption {
	return func(cfg *core.Config) {
		cfg.Embed = fn
	}
}

// WithoutFTS disables lexical indexing for this collection. Text queries
// will fail; vector search and plain retrieval still work.
func WithoutFTS() CollectionOption {
	return func(cfg *core.Config) {
		cfg.DisableFTS = true
	}
}

// Collection opens the named collection, provisioning the schema on first
// use. The name must match [-A-Za-z0-9_+~#=/]+.
func (db *DB) Collection(ctx context.Context, name string, opts ...CollectionOption) (*core.Collection, error) {
	cfg := core.Config{Name: name, Logger: db.logger}
	for _, opt := range opts {
		opt(&cfg)
	}
	return core.NewCollection(ctx, db.adapter, cfg)
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	return db.adapter.Close()
}

// urlToDSN re-encodes a database URL as a keyword/value connection string
// for the server backend.
func urlToDSN(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid database URL: %w", err)
	}

	parts := []string{"dbname=" + strings.TrimPrefix(u.Path, "/")}
	if u.User != nil {
		if user := u.User.Username(); user != "" {
			parts = append(parts, "user="+user)
		}
		if password, ok := u.User.Password(); ok {
			parts = append(parts, "password="+password)
		}
	}
	if host := u.Hostname(); host != "" {
		parts = append(parts, "host="+host)
	}
	if port := u.Port(); port != "" {
		parts = append(parts, "port="+port)
	}
	return strings.Join(parts, " "), nil
}
