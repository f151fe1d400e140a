package core

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/liliang-cn/docsearch/internal/encoding"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// PostgresAdapter implements the Adapter interface over a PostgreSQL server.
// Full-text search uses a tsvector column with a GIN index; vector search
// uses the pgvector extension's cosine-distance operator.
type PostgresAdapter struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	mu     sync.Mutex
	closed bool
}

// NewPostgresAdapter connects to the server identified by dsn.
func NewPostgresAdapter(dsn string, logger *zap.SugaredLogger) (*PostgresAdapter, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, wrapError("init", fmt.Errorf("failed to open database: %w", err))
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	return &PostgresAdapter{db: db, logger: logger}, nil
}

// Scope provides a transactional scope around fn.
func (a *PostgresAdapter) Scope(ctx context.Context, fn func(tx *sql.Tx) error) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrStoreClosed
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Placeholder returns the positional bind marker "$n".
func (a *PostgresAdapter) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// IsServer reports true for the client/server backend.
func (a *PostgresAdapter) IsServer() bool { return true }

// EncodeVector encodes an embedding in the vector extension's text form.
func (a *PostgresAdapter) EncodeVector(vector []float32) (any, error) {
	return encoding.EncodeVectorText(vector)
}

// MetaText extracts a metadata key as text from the JSONB column.
func (a *PostgresAdapter) MetaText(key string) string {
	return fmt.Sprintf("doc.metadata->>'%s'", key)
}

// MetaNumeric extracts a metadata key coerced to a double.
func (a *PostgresAdapter) MetaNumeric(key string) string {
	return fmt.Sprintf("(doc.metadata->>'%s')::double precision", key)
}

// EnsureSchema creates the documents table with its tsvector column, the GIN
// index over it and the collection-name index. The tsvector column is kept in
// sync with content by an explicit write on every insert and upsert.
func (a *PostgresAdapter) EnsureSchema(ctx context.Context, _ bool) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		content TEXT,
		name TEXT,
		metadata JSONB,
		tsvector TSVECTOR
	);

	CREATE INDEX IF NOT EXISTS documents_tsvector_idx ON documents USING GIN (tsvector);
	CREATE INDEX IF NOT EXISTS documents_name_idx ON documents (name);
	`

	if err := a.Scope(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, createTableSQL); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
		return nil
	}); err != nil {
		return wrapError("init", err)
	}

	a.logger.Debugw("schema ensured", "backend", "postgres")
	return nil
}

// EnsureEmbedding provisions the vector extension and the embedding column.
// The extension is probed first: CREATE EXTENSION needs elevated privileges,
// so it is only attempted when the extension is actually absent.
func (a *PostgresAdapter) EnsureEmbedding(ctx context.Context) error {
	err := a.Scope(ctx, func(tx *sql.Tx) error {
		var installed int
		row := tx.QueryRowContext(ctx, "SELECT count(*) FROM pg_extension WHERE extname = 'vector'")
		if err := row.Scan(&installed); err != nil {
			return err
		}
		if installed == 0 {
			if _, err := tx.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
				return fmt.Errorf("%w: %v", ErrExtensionUnavailable, err)
			}
			a.logger.Infow("vector extension created")
		}
		if _, err := tx.ExecContext(ctx,
			"ALTER TABLE documents ADD COLUMN IF NOT EXISTS embedding vector"); err != nil {
			return fmt.Errorf("failed to add embedding column: %w", err)
		}
		return nil
	})
	if err != nil {
		return wrapError("init", err)
	}
	return nil
}

// Close closes the database
func (a *PostgresAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.db.Close()
}
