// Package retrieval implements first-stage vector search and second-stage
// reranking over the chunk store.
package retrieval

import (
	"context"
	"fmt"

	"github.com/veridoc/veridoc/internal/log"
	"github.com/veridoc/veridoc/internal/provider"
	"github.com/veridoc/veridoc/internal/vectorstore"
)

// Config controls first-stage retrieval.
type Config struct {
	TopK                int     // final result budget; the search fetches 2x this for the reranker
	SimilarityThreshold float64 // drop candidates scoring below this
}

// Defaults applied by NewRetriever for zero-valued fields.
const (
	DefaultTopK                = 5
	DefaultSimilarityThreshold = 0.5
)

// Retriever embeds a query and returns candidate chunks above the
// similarity threshold.
//
// An embedding failure is an error: without a query vector no retrieval
// happened at all, and callers must not present that as "no information".
// A failed or empty search degrades to an empty candidate list, so
// "nothing relevant" and "search unavailable" share the no-information
// outcome downstream.
type Retriever struct {
	embedder provider.Embedder
	store    vectorstore.Store
	cfg      Config
	logger   log.Logger
}

// NewRetriever creates a Retriever. Zero-valued config fields fall back to
// the package defaults.
func NewRetriever(embedder provider.Embedder, store vectorstore.Store, cfg Config, logger log.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{embedder: embedder, store: store, cfg: cfg, logger: logger}
}

// TopK returns the configured final result budget.
func (r *Retriever) TopK() int {
	return r.cfg.TopK
}

// Retrieve returns up to 2xTopK candidates scoring at or above the
// similarity threshold, ordered by descending similarity. Documents
// restricts the search when non-empty. Embedding failures are returned
// as errors; search failures yield an empty candidate list.
func (r *Retriever) Retrieve(ctx context.Context, query string, documents []string) ([]vectorstore.Result, error) {
	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	opts := []vectorstore.SearchOption{vectorstore.WithLimit(2 * r.cfg.TopK)}
	if len(documents) > 0 {
		opts = append(opts, vectorstore.WithDocuments(documents...))
	}

	results, err := r.store.Search(ctx, embedding, opts...)
	if err != nil {
		r.logger.Warn("vector search failed, returning no candidates", "error", err)
		return nil, nil
	}

	var candidates []vectorstore.Result
	for _, res := range results {
		if res.Score >= r.cfg.SimilarityThreshold {
			candidates = append(candidates, res)
		}
	}

	r.logger.Debug("candidates retrieved",
		"query_len", len(query),
		"raw", len(results),
		"above_threshold", len(candidates))
	return candidates, nil
}
