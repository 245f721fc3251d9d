// Package vectorstore defines the chunk persistence and similarity search
// contract consumed by retrieval and ingestion.
package vectorstore

import (
	"context"

	"github.com/veridoc/veridoc/internal/chunk"
)

// Result is a chunk returned from similarity search.
// Score is cosine similarity in [0, 1]; higher means closer. RerankScore
// is filled by the second retrieval stage and stays zero until then, so
// both stages' judgments survive to the response.
type Result struct {
	Chunk       chunk.Chunk
	Score       float64
	RerankScore float64
}

// SearchOption configures a similarity search.
type SearchOption func(*SearchOptions)

// SearchOptions holds resolved search parameters.
type SearchOptions struct {
	Limit     int
	Documents []string // restrict search to these documents; empty means all
}

// DefaultSearchLimit applies when no WithLimit option is given.
const DefaultSearchLimit = 10

// WithLimit caps the number of results.
func WithLimit(n int) SearchOption {
	return func(o *SearchOptions) {
		if n > 0 {
			o.Limit = n
		}
	}
}

// WithDocuments restricts the search to the named documents.
func WithDocuments(docs ...string) SearchOption {
	return func(o *SearchOptions) {
		o.Documents = docs
	}
}

// ResolveSearchOptions applies opts over the defaults.
func ResolveSearchOptions(opts ...SearchOption) SearchOptions {
	resolved := SearchOptions{Limit: DefaultSearchLimit}
	for _, opt := range opts {
		opt(&resolved)
	}
	return resolved
}

// Store persists chunks with their embeddings and serves similarity search.
type Store interface {
	// Upsert writes chunks and their embeddings. The two slices are
	// index-aligned; re-ingesting a document overwrites its rows.
	Upsert(ctx context.Context, chunks []chunk.Chunk, embeddings [][]float32) error

	// Search returns the chunks nearest to the query embedding, ordered by
	// descending similarity.
	Search(ctx context.Context, embedding []float32, opts ...SearchOption) ([]Result, error)

	// Delete removes the chunks with the given IDs. Missing IDs are not
	// an error.
	Delete(ctx context.Context, ids []string) error

	// DeleteDocument removes every chunk belonging to the document, so a
	// forced re-ingest cannot leave stale rows behind.
	DeleteDocument(ctx context.Context, document string) error

	// HasDocument reports whether any chunks exist for the document.
	HasDocument(ctx context.Context, document string) (bool, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}
