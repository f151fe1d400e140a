package core

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/liliang-cn/docsearch/internal/encoding"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteAdapter implements the Adapter interface over a single-file SQLite
// database. Full-text search uses an external FTS5 virtual table and vector
// search is ranked client-side over raw embedding blobs.
type SQLiteAdapter struct {
	db     *sql.DB
	path   string
	logger *zap.SugaredLogger
	mu     sync.Mutex
	closed bool
}

// DefaultSQLitePath is used when the database URL is empty.
const DefaultSQLitePath = "search_engine.db"

// NewSQLiteAdapter opens (or creates) the database file at path.
func NewSQLiteAdapter(path string, logger *zap.SugaredLogger) (*SQLiteAdapter, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	// journal_mode=WAL: Better concurrency
	// busy_timeout=5000: Wait up to 5s for lock instead of failing immediately
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapError("init", fmt.Errorf("failed to open database: %w", err))
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	return &SQLiteAdapter{db: db, path: path, logger: logger}, nil
}

// Scope provides a transactional scope around fn.
func (a *SQLiteAdapter) Scope(ctx context.Context, fn func(tx *sql.Tx) error) error {
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

// Placeholder returns the positional bind marker. SQLite uses "?" regardless
// of position.
func (a *SQLiteAdapter) Placeholder(int) string { return "?" }

// IsServer reports false for the embedded backend.
func (a *SQLiteAdapter) IsServer() bool { return false }

// EncodeVector encodes an embedding as raw little-endian float32 bytes.
func (a *SQLiteAdapter) EncodeVector(vector []float32) (any, error) {
	return encoding.EncodeVector(vector)
}

// MetaText extracts a metadata key as stored in the JSON column.
func (a *SQLiteAdapter) MetaText(key string) string {
	return fmt.Sprintf("json_extract(doc.metadata, '$.%s')", key)
}

// MetaNumeric extracts a metadata key coerced to a numeric value.
func (a *SQLiteAdapter) MetaNumeric(key string) string {
	return fmt.Sprintf("CAST(json_extract(doc.metadata, '$.%s') AS REAL)", key)
}

// EnsureSchema creates the documents table, the collection-name index and,
// when full-text search is enabled, the FTS5 virtual table.
func (a *SQLiteAdapter) EnsureSchema(ctx context.Context, ftsEnabled bool) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		content TEXT,
		name TEXT,
		metadata JSON
	);

	CREATE INDEX IF NOT EXISTS documents_name_idx ON documents (name);
	`

	if err := a.Scope(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, createTableSQL); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
		if ftsEnabled {
			_, err := tx.ExecContext(ctx,
				"CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(id, content)")
			if err != nil {
				return fmt.Errorf("failed to create fts table: %w", err)
			}
		}
		return nil
	}); err != nil {
		return wrapError("init", err)
	}

	a.logger.Debugw("schema ensured", "backend", "sqlite", "path", a.path, "fts", ftsEnabled)
	return nil
}

// EnsureEmbedding adds the embedding blob column if the table predates it.
// Column additions are probed first so re-opening an evolved store is a no-op.
func (a *SQLiteAdapter) EnsureEmbedding(ctx context.Context) error {
	err := a.Scope(ctx, func(tx *sql.Tx) error {
		exists, err := columnExists(ctx, tx, "documents", "embedding")
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "ALTER TABLE documents ADD COLUMN embedding BLOB"); err != nil {
			return fmt.Errorf("failed to add embedding column: %w", err)
		}
		a.logger.Infow("embedding column added", "backend", "sqlite")
		return nil
	})
	if err != nil {
		return wrapError("init", err)
	}
	return nil
}

// columnExists probes the table layout via PRAGMA table_info.
func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Close closes the database
func (a *SQLiteAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.db.Close()
}
