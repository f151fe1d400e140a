package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/liliang-cn/docsearch/internal/encoding"
)

// collectionNameRe is the allowed shape of a collection name. Names are
// interpolated into SQL as literals, so everything outside this set is
// rejected at construction time.
var collectionNameRe = regexp.MustCompile(`^[-A-Za-z0-9_+~#=/]+$`)

// Config configures a collection handle.
type Config struct {
	// Name tags every document written through this handle. Required,
	// must match [-A-Za-z0-9_+~#=/]+.
	Name string
	// Embed, when set, produces embedding vectors for every added document
	// and enables vector search.
	Embed EmbedFunc
	// DisableFTS skips lexical indexing. Text queries then fail with
	// ErrFTSDisabled.
	DisableFTS bool
	// Logger receives provisioning and read-path diagnostics. Optional.
	Logger *zap.SugaredLogger
}

// Collection is a named partition of the shared document table. All handles
// to the same backing store share one physical table; isolation is by the
// name tag only.
//
// Document ids are unique across the whole store, not per collection: adding
// an id that another collection already owns overwrites that row and
// reassigns it to this collection.
type Collection struct {
	adapter Adapter
	name    string
	embed   EmbedFunc
	fts     bool
	logger  *zap.SugaredLogger
}

// NewCollection validates the name, provisions the schema and returns a
// collection handle. Re-opening an existing collection is a no-op on the
// schema.
func NewCollection(ctx context.Context, adapter Adapter, cfg Config) (*Collection, error) {
	if !collectionNameRe.MatchString(cfg.Name) {
		return nil, wrapError("collection", fmt.Errorf("%w: %q", ErrInvalidCollectionName, cfg.Name))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	c := &Collection{
		adapter: adapter,
		name:    cfg.Name,
		embed:   cfg.Embed,
		fts:     !cfg.DisableFTS,
		logger:  logger,
	}

	if err := adapter.EnsureSchema(ctx, c.fts); err != nil {
		return nil, err
	}
	if c.embed != nil {
		if err := adapter.EnsureEmbedding(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Name returns the collection name tag.
func (c *Collection) Name() string { return c.name }

// Add upserts a batch of documents and returns their ids. Empty or missing
// ids are replaced by freshly minted UUIDs. Existing ids are overwritten,
// not rejected: content, metadata, embedding and the collection tag all move
// to the incoming values.
func (c *Collection) Add(ctx context.Context, contents []string, ids []string, metadatas []map[string]any) ([]string, error) {
	if len(contents) == 0 {
		return []string{}, nil
	}
	if ids != nil && len(ids) != len(contents) {
		return nil, wrapError("add", ErrLengthMismatch)
	}
	if metadatas != nil && len(metadatas) != len(contents) {
		return nil, wrapError("add", ErrLengthMismatch)
	}

	docIDs := make([]string, len(contents))
	for i := range contents {
		if ids != nil && ids[i] != "" {
			docIDs[i] = ids[i]
		} else {
			docIDs[i] = uuid.NewString()
		}
	}

	metaJSON := make([]any, len(contents))
	for i := range contents {
		if metadatas == nil || metadatas[i] == nil {
			metaJSON[i] = nil
			continue
		}
		data, err := encoding.EncodeMetadata(metadatas[i])
		if err != nil {
			return nil, wrapError("add", err)
		}
		metaJSON[i] = string(data)
	}

	var vectors []any
	if c.embed != nil {
		raw, err := c.embed(ctx, contents)
		if err != nil {
			return nil, wrapError("add", fmt.Errorf("embedding failed: %w", err))
		}
		if len(raw) != len(contents) {
			return nil, wrapError("add", fmt.Errorf("embedding function returned %d vectors for %d texts", len(raw), len(contents)))
		}
		vectors = make([]any, len(raw))
		for i, vec := range raw {
			encoded, err := c.adapter.EncodeVector(vec)
			if err != nil {
				return nil, wrapError("add", err)
			}
			vectors[i] = encoded
		}
	}

	err := c.adapter.Scope(ctx, func(tx *sql.Tx) error {
		if err := c.upsertRows(ctx, tx, docIDs, contents, metaJSON, vectors); err != nil {
			return err
		}
		if !c.adapter.IsServer() && c.fts {
			return c.rebuildFTS(ctx, tx, docIDs, contents)
		}
		return nil
	})
	if err != nil {
		return nil, wrapError("add", err)
	}
	return docIDs, nil
}

// upsertRows writes the batch through a single prepared upsert. On the
// server backend the tsvector column is rewritten in the same statement so
// the lexical index never lags the content.
func (c *Collection) upsertRows(ctx context.Context, tx *sql.Tx, ids, contents []string, metaJSON, vectors []any) error {
	stmt := upsertStatement(c.adapter, vectors != nil)

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = prepared.Close() }()

	for i := range ids {
		args := []any{ids[i], contents[i], c.name, metaJSON[i]}
		if vectors != nil {
			args = append(args, vectors[i])
		}
		if _, err := prepared.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to upsert document %s: %w", ids[i], err)
		}
	}
	return nil
}

// rebuildFTS refreshes the FTS5 rows for the affected ids. The ids are
// staged in a temporary scratch table so the delete is a single statement
// instead of one round-trip per id.
func (c *Collection) rebuildFTS(ctx context.Context, tx *sql.Tx, ids, contents []string) error {
	if _, err := tx.ExecContext(ctx, "CREATE TEMP TABLE IF NOT EXISTS batch_ids (id TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("failed to create scratch table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM batch_ids"); err != nil {
		return err
	}

	insertID, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO batch_ids (id) VALUES (?)")
	if err != nil {
		return err
	}
	defer func() { _ = insertID.Close() }()
	for _, id := range ids {
		if _, err := insertID.ExecContext(ctx, id); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents_fts WHERE id IN (SELECT id FROM batch_ids)"); err != nil {
		return fmt.Errorf("failed to clear fts rows: %w", err)
	}

	insertFTS, err := tx.PrepareContext(ctx, "INSERT INTO documents_fts (id, content) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = insertFTS.Close() }()
	for i, id := range ids {
		if _, err := insertFTS.ExecContext(ctx, id, contents[i]); err != nil {
			return fmt.Errorf("failed to index document %s: %w", id, err)
		}
	}
	return nil
}

// Update rewrites existing documents. Unlike Add, the id list is mandatory
// and must be complete; the write itself is the same idempotent upsert.
func (c *Collection) Update(ctx context.Context, ids, contents []string, metadatas []map[string]any) ([]string, error) {
	if len(ids) == 0 || len(ids) != len(contents) {
		return nil, wrapError("update", ErrMissingIDs)
	}
	for _, id := range ids {
		if id == "" {
			return nil, wrapError("update", ErrMissingIDs)
		}
	}
	return c.Add(ctx, contents, ids, metadatas)
}

// Delete removes the given documents. Absent ids are a no-op. The lexical
// index entry goes first, then the row itself, both as single batched
// statements.
func (c *Collection) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	err := c.adapter.Scope(ctx, func(tx *sql.Tx) error {
		args := make([]any, len(ids))
		placeholders := make([]string, len(ids))
		for i, id := range ids {
			args[i] = id
			placeholders[i] = c.adapter.Placeholder(i + 1)
		}
		in := strings.Join(placeholders, ", ")

		if c.adapter.IsServer() {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf("UPDATE documents SET tsvector = NULL WHERE id IN (%s)", in), args...); err != nil {
				return err
			}
		} else if c.fts {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf("DELETE FROM documents_fts WHERE id IN (%s)", in), args...); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM documents WHERE id IN (%s)", in), args...)
		return err
	})
	if err != nil {
		return wrapError("delete", err)
	}
	return nil
}

// DeleteAll removes every document carrying this collection's name tag.
func (c *Collection) DeleteAll(ctx context.Context) error {
	err := c.adapter.Scope(ctx, func(tx *sql.Tx) error {
		ph := c.adapter.Placeholder(1)
		if !c.adapter.IsServer() && c.fts {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM documents_fts WHERE id IN (SELECT id FROM documents WHERE name = "+ph+")",
				c.name); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE name = "+ph, c.name)
		return err
	})
	if err != nil {
		return wrapError("delete_all", err)
	}
	return nil
}

// Count returns the number of documents in this collection.
func (c *Collection) Count(ctx context.Context) (int, error) {
	var count int
	err := c.adapter.Scope(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT count(*) FROM documents WHERE name = "+c.adapter.Placeholder(1), c.name)
		return row.Scan(&count)
	})
	if err != nil {
		return 0, wrapError("count", err)
	}
	return count, nil
}

// queryMode selects the base shape of the retrieval statement.
type queryMode int

const (
	modePlain queryMode = iota
	modeLexical
	modeVectorServer
	modeVectorEmbedded
)

// backendReadError marks errors raised by the backend while executing a
// read. Only these are swallowed into an empty envelope; everything else
// propagates.
type backendReadError struct{ err error }

func (e *backendReadError) Error() string { return e.err.Error() }
func (e *backendReadError) Unwrap() error { return e.err }

// Query runs one filtered, ordered, paginated retrieval and returns the
// page of results together with the total count of matches.
//
// An empty queryString retrieves without ranking. With VectorSearch the
// query text is embedded and documents are ranked by cosine similarity;
// otherwise non-empty text is parsed into the backend's full-text syntax.
// A backend error during the read yields an empty envelope, not an error,
// so malformed query syntax degrades to a non-match.
func (c *Collection) Query(ctx context.Context, queryString string, opts QueryOptions) (*QueryResult, error) {
	queryString = strings.TrimSpace(queryString)

	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, wrapError("query", fmt.Errorf("%w: negative limit or offset", ErrInvalidArgument))
	}
	if opts.VectorSearch && c.embed == nil {
		return nil, wrapError("query", ErrNoEmbedder)
	}
	if opts.VectorSearch && len(opts.OrderBy) > 0 {
		return nil, wrapError("query", ErrVectorSearchOrder)
	}
	if queryString != "" && !opts.VectorSearch && !c.fts {
		return nil, wrapError("query", ErrFTSDisabled)
	}
	if err := validateWhere(opts.Where); err != nil {
		return nil, wrapError("query", err)
	}

	var queryVec []float32
	if queryString != "" && opts.VectorSearch {
		raw, err := c.embed(ctx, []string{queryString})
		if err != nil {
			return nil, wrapError("query", fmt.Errorf("embedding failed: %w", err))
		}
		if len(raw) != 1 {
			return nil, wrapError("query", fmt.Errorf("embedding function returned %d vectors for 1 text", len(raw)))
		}
		queryVec = raw[0]
	}

	mode := modePlain
	switch {
	case queryString == "":
		mode = modePlain
	case opts.VectorSearch && c.adapter.IsServer():
		mode = modeVectorServer
	case opts.VectorSearch:
		mode = modeVectorEmbedded
	default:
		mode = modeLexical
	}

	b := newQueryBuilder(c.adapter)
	b.addSelect("doc.id")
	b.addSelect("doc.content")
	b.addSelect("doc.metadata")
	b.from = "documents doc"

	switch mode {
	case modeLexical:
		if c.adapter.IsServer() {
			ph := b.bind(ParseQuery(queryString, DialectServer))
			b.addSelect(fmt.Sprintf("ts_rank(doc.tsvector, to_tsquery('simple', %s)) AS rank", ph))
			b.addPredicate(fmt.Sprintf("doc.tsvector @@ to_tsquery('simple', %s)", ph))
		} else {
			b.from = "documents_fts fts JOIN documents doc ON doc.id = fts.id"
			b.addSelect("fts.rank AS rank")
			b.addPredicate(fmt.Sprintf("fts.content MATCH %s", b.bind(ParseQuery(queryString, DialectEmbedded))))
		}
	case modeVectorServer:
		encoded, err := c.adapter.EncodeVector(queryVec)
		if err != nil {
			return nil, wrapError("query", err)
		}
		ph := b.bind(encoded)
		b.addSelect(fmt.Sprintf("1 - (doc.embedding <=> %s::vector) AS rank", ph))
		b.addOrder(fmt.Sprintf("doc.embedding <=> %s::vector", ph))
	case modeVectorEmbedded:
		b.addSelect("doc.embedding")
	}

	if mode != modeVectorEmbedded {
		b.addSelect("count(*) OVER () AS total")
	}

	// Collection name is pre-validated at construction and interpolated as
	// a literal.
	b.addPredicate(fmt.Sprintf("doc.name = '%s'", c.name))

	if err := b.addWhere(opts.Where); err != nil {
		return nil, wrapError("query", err)
	}

	if mode != modeVectorServer && mode != modeVectorEmbedded {
		b.addOrderBy(opts.OrderBy)
	}

	// The embedded vector path fetches the full candidate set and ranks in
	// memory; every other path pushes pagination into the SQL.
	limit, offset := opts.Limit, opts.Offset
	if mode == modeVectorEmbedded {
		limit, offset = 0, 0
	}
	stmt := b.SQL(limit, offset)

	var (
		result     QueryResult
		candidates []vectorCandidate
	)
	err := c.adapter.Scope(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, stmt, b.args...)
		if err != nil {
			return &backendReadError{err}
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			switch mode {
			case modeVectorEmbedded:
				cand, err := scanVectorCandidate(rows)
				if err != nil {
					return err
				}
				candidates = append(candidates, cand)
			default:
				doc, total, err := scanDocument(rows, mode != modePlain)
				if err != nil {
					return err
				}
				result.Total = total
				result.Results = append(result.Results, doc)
			}
		}
		if err := rows.Err(); err != nil {
			return &backendReadError{err}
		}
		return nil
	})
	if err != nil {
		var readErr *backendReadError
		if errors.As(err, &readErr) {
			c.logger.Warnw("query failed against backend, returning empty result",
				"collection", c.name, "error", readErr.Unwrap())
			return &QueryResult{Total: 0, Results: []Document{}}, nil
		}
		return nil, wrapError("query", err)
	}

	if mode == modeVectorEmbedded {
		return rankCandidates(candidates, queryVec, opts.Limit, opts.Offset), nil
	}
	if result.Results == nil {
		result.Results = []Document{}
	}
	return &result, nil
}

// Get retrieves documents without search ranking. It is Query with an empty
// query string: same filtering, ordering and pagination, no rank column.
func (c *Collection) Get(ctx context.Context, opts QueryOptions) (*QueryResult, error) {
	opts.VectorSearch = false
	return c.Query(ctx, "", opts)
}

// vectorCandidate is one unranked row of an embedded vector search.
type vectorCandidate struct {
	id       string
	content  string
	metadata map[string]any
	vector   []float32
}

func scanVectorCandidate(rows *sql.Rows) (vectorCandidate, error) {
	var (
		cand     vectorCandidate
		content  sql.NullString
		metaRaw  []byte
		blobData []byte
	)
	if err := rows.Scan(&cand.id, &content, &metaRaw, &blobData); err != nil {
		return cand, err
	}
	cand.content = content.String

	meta, err := encoding.DecodeMetadata(metaRaw)
	if err != nil {
		return cand, err
	}
	cand.metadata = meta

	vec, err := encoding.DecodeVector(blobData)
	if err != nil {
		return cand, err
	}
	cand.vector = vec
	return cand, nil
}

func scanDocument(rows *sql.Rows, withRank bool) (Document, int, error) {
	var (
		doc     Document
		content sql.NullString
		metaRaw []byte
		rank    sql.NullFloat64
		total   int
	)
	if withRank {
		if err := rows.Scan(&doc.ID, &content, &metaRaw, &rank, &total); err != nil {
			return doc, 0, err
		}
	} else {
		if err := rows.Scan(&doc.ID, &content, &metaRaw, &total); err != nil {
			return doc, 0, err
		}
	}
	doc.Content = content.String

	meta, err := encoding.DecodeMetadata(metaRaw)
	if err != nil {
		return doc, 0, err
	}
	doc.Metadata = meta

	if withRank && rank.Valid {
		r := rank.Float64
		doc.Rank = &r
	}
	return doc, total, nil
}

// rankCandidates materializes an embedded vector search: cosine similarity
// against the query vector, descending order, then offset and limit. Indices
// are sorted rather than row values to keep allocations down.
func rankCandidates(candidates []vectorCandidate, queryVec []float32, limit, offset int) *QueryResult {
	score := cosineAgainst(queryVec)
	sims := make([]float64, len(candidates))
	order := make([]int, len(candidates))
	for i := range candidates {
		sims[i] = score(candidates[i].vector)
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return sims[order[i]] > sims[order[j]] })

	total := len(candidates)
	if offset > len(order) {
		offset = len(order)
	}
	order = order[offset:]
	if limit > 0 && limit < len(order) {
		order = order[:limit]
	}

	results := make([]Document, 0, len(order))
	for _, idx := range order {
		cand := candidates[idx]
		rank := sims[idx]
		results = append(results, Document{
			ID:       cand.id,
			Content:  cand.content,
			Metadata: cand.metadata,
			Rank:     &rank,
		})
	}
	return &QueryResult{Total: total, Results: results}
}

// upsertStatement renders the batched insert-or-update. The server variant
// rewrites the tsvector column from the bound content in the same statement,
// so the lexical index can never lag a committed row.
func upsertStatement(adapter Adapter, withVector bool) string {
	ph := adapter.Placeholder

	columns := "id, content, name, metadata"
	values := fmt.Sprintf("%s, %s, %s, %s", ph(1), ph(2), ph(3), ph(4))
	updates := "content = excluded.content, name = excluded.name, metadata = excluded.metadata"

	if adapter.IsServer() {
		columns += ", tsvector"
		values += fmt.Sprintf(", to_tsvector('simple', %s)", ph(2))
		updates += ", tsvector = excluded.tsvector"
	}
	if withVector {
		columns += ", embedding"
		values += ", " + ph(5)
		updates += ", embedding = excluded.embedding"
	}

	return fmt.Sprintf(
		"INSERT INTO documents (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		columns, values, updates,
	)
}
