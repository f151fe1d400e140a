// Package core implements the document search engine: named collections
// over a shared document table, with full-text and vector retrieval unified
// across an embedded SQLite backend and a PostgreSQL backend.
//
// The package is organized around four pieces: ParseQuery translates user
// query text into the backend's search syntax, the Adapter implementations
// hide backend differences behind one contract, the schema methods provision
// tables idempotently, and Collection orchestrates writes and the combined
// filter/order/paginate/count retrieval.
package core
