package core

import (
	"context"
	"database/sql"
)

// Adapter abstracts the two storage backends behind one contract: schema
// provisioning, transactional scope, parameter rendering and the handful of
// SQL fragments whose spelling differs between backends. The collection
// engine treats both implementations identically.
type Adapter interface {
	// Scope provides a transactional scope around fn. The transaction
	// commits when fn returns nil and rolls back otherwise; the underlying
	// connection is released in both cases.
	Scope(ctx context.Context, fn func(tx *sql.Tx) error) error

	// Placeholder renders the bind marker for the n-th parameter (1-based).
	Placeholder(n int) string

	// IsServer reports whether this adapter talks to the client/server
	// backend rather than the embedded one.
	IsServer() bool

	// EncodeVector encodes an embedding vector into the backend's storage
	// representation: raw little-endian float32 bytes on the embedded
	// backend, the vector extension's text form on the server backend.
	EncodeVector(vector []float32) (any, error)

	// MetaText renders SQL extracting a metadata key as text. The key is
	// interpolated as a literal and must come from a trusted caller.
	MetaText(key string) string

	// MetaNumeric renders SQL extracting a metadata key coerced to a double.
	MetaNumeric(key string) string

	// EnsureSchema idempotently provisions the documents table, the
	// collection-name index and the lexical index. Re-opening is a no-op.
	EnsureSchema(ctx context.Context, ftsEnabled bool) error

	// EnsureEmbedding idempotently provisions the embedding column, and on
	// the server backend the vector extension.
	EnsureEmbedding(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close() error
}
