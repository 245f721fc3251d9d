package retrieval

import (
	"context"
	"math"
	"sort"

	"github.com/veridoc/veridoc/internal/log"
	"github.com/veridoc/veridoc/internal/provider"
	"github.com/veridoc/veridoc/internal/vectorstore"
)

// PairScorer scores query/candidate pairs for relevance.
// Scores are in [0, 1]; the result is index-aligned with the candidates.
type PairScorer interface {
	Score(ctx context.Context, query string, candidates []string) ([]float64, error)
}

// neutralScore is assigned to every candidate when the scorer is
// unavailable, preserving the first-stage order.
const neutralScore = 0.5

// Reranker reorders retrieval candidates with a pair scorer and keeps the
// top K.
//
// Reranking never blocks the pipeline: scorer failure degrades to neutral
// scores, which leaves the first-stage order intact.
type Reranker struct {
	scorer PairScorer
	topK   int
	logger log.Logger
}

// NewReranker creates a Reranker. A nil scorer is allowed and always
// degrades to neutral scores.
func NewReranker(scorer PairScorer, topK int, logger log.Logger) *Reranker {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Reranker{scorer: scorer, topK: topK, logger: logger}
}

// Rerank rescores candidates against the query, sorts by descending rerank
// score, and truncates to the top K. The first-stage similarity stays in
// Score; the rerank score is carried alongside it in RerankScore.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []vectorstore.Result) []vectorstore.Result {
	if len(candidates) == 0 {
		return nil
	}

	scores := r.score(ctx, query, candidates)

	reranked := make([]vectorstore.Result, len(candidates))
	copy(reranked, candidates)
	for i := range reranked {
		reranked[i].RerankScore = scores[i]
	}

	// Stable sort so neutral fallback scores preserve the first-stage order.
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].RerankScore > reranked[j].RerankScore
	})

	if len(reranked) > r.topK {
		reranked = reranked[:r.topK]
	}
	return reranked
}

func (r *Reranker) score(ctx context.Context, query string, candidates []vectorstore.Result) []float64 {
	neutral := func() []float64 {
		scores := make([]float64, len(candidates))
		for i := range scores {
			scores[i] = neutralScore
		}
		return scores
	}

	if r.scorer == nil {
		return neutral()
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Chunk.Content
	}

	scores, err := r.scorer.Score(ctx, query, texts)
	if err != nil || len(scores) != len(candidates) {
		r.logger.Warn("pair scorer unavailable, keeping first-stage order", "error", err)
		return neutral()
	}
	return scores
}

// EmbeddingScorer scores pairs by cosine similarity of their embeddings.
// It stands in for a cross-encoder when none is deployed; the contract and
// failure behavior are identical.
type EmbeddingScorer struct {
	embedder provider.Embedder
}

// NewEmbeddingScorer creates an EmbeddingScorer.
func NewEmbeddingScorer(embedder provider.Embedder) *EmbeddingScorer {
	return &EmbeddingScorer{embedder: embedder}
}

// Score embeds the query and all candidates in one batch and returns the
// cosine similarity of each pair, shifted into [0, 1].
func (s *EmbeddingScorer) Score(ctx context.Context, query string, candidates []string) ([]float64, error) {
	texts := append([]string{query}, candidates...)
	embeddings, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	queryVec := embeddings[0]
	scores := make([]float64, len(candidates))
	for i, vec := range embeddings[1:] {
		scores[i] = (cosineSimilarity(queryVec, vec) + 1) / 2
	}
	return scores, nil
}

// cosineSimilarity returns the cosine of the angle between two vectors, or
// 0 when either has zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
