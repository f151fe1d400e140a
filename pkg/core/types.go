package core

import "context"

// Document is the view of a stored document returned by Query and Get.
// Rank is populated on text and vector search and nil on plain retrieval.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Rank     *float64       `json:"rank,omitempty"`
}

// QueryResult is the envelope returned by Query and Get. Total is the
// cardinality of the full result set before pagination; Results holds the
// requested page. Except for embedded vector search, Total is read from the
// returned rows, so a page left empty by an Offset past the last match
// reports Total 0.
type QueryResult struct {
	Total   int        `json:"total"`
	Results []Document `json:"results"`
}

// QueryOptions control filtering, ordering and pagination of Query and Get.
type QueryOptions struct {
	// Limit caps the number of returned documents. Zero means unlimited.
	Limit int
	// Offset skips that many documents of the ordered result set.
	Offset int
	// Where maps metadata keys to either a scalar value (equality) or an
	// operator expression such as map[string]any{"$gte": 3}. Recognized
	// operators: $eq, $gt, $gte, $lt, $lte, $in, $nin.
	Where map[string]any
	// OrderBy lists metadata keys to order by. A "-" prefix orders the key
	// descending with nulls first; no prefix or "+" orders ascending with
	// nulls last.
	OrderBy []string
	// VectorSearch ranks by embedding similarity instead of lexical match.
	// Requires an embedding function and is incompatible with OrderBy.
	VectorSearch bool
}

// EmbedFunc maps a batch of texts to a batch of fixed-length float vectors.
// All vectors produced for one collection must share the same dimension.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Recognized metadata filter operators.
const (
	opEq  = "$eq"
	opGt  = "$gt"
	opGte = "$gte"
	opLt  = "$lt"
	opLte = "$lte"
	opIn  = "$in"
	opNin = "$nin"
)

var comparisonOps = map[string]string{
	opEq:  "=",
	opGt:  ">",
	opGte: ">=",
	opLt:  "<",
	opLte: "<=",
}
