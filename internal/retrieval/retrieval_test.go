package retrieval

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/veridoc/veridoc/internal/chunk"
	"github.com/veridoc/veridoc/internal/log"
	"github.com/veridoc/veridoc/internal/vectorstore"
)

// mockEmbedder is a hand-written test double with call counters.
type mockEmbedder struct {
	embedCalls      int
	embedQueryCalls int
	vectors         map[string][]float32
	err             error
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.embedCalls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vectors[t]
	}
	return out, nil
}

func (m *mockEmbedder) EmbedQuery(_ context.Context, query string) ([]float32, error) {
	m.embedQueryCalls++
	if m.err != nil {
		return nil, m.err
	}
	return m.vectors[query], nil
}

func (m *mockEmbedder) Dimensions() int { return 3 }

type mockStore struct {
	searchCalls int
	lastOpts    vectorstore.SearchOptions
	results     []vectorstore.Result
	err         error
}

func (m *mockStore) Upsert(context.Context, []chunk.Chunk, [][]float32) error { return nil }

func (m *mockStore) Search(_ context.Context, _ []float32, opts ...vectorstore.SearchOption) ([]vectorstore.Result, error) {
	m.searchCalls++
	m.lastOpts = vectorstore.ResolveSearchOptions(opts...)
	return m.results, m.err
}

func (m *mockStore) Delete(context.Context, []string) error            { return nil }
func (m *mockStore) DeleteDocument(context.Context, string) error      { return nil }
func (m *mockStore) HasDocument(context.Context, string) (bool, error) { return false, nil }
func (m *mockStore) Ping(context.Context) error                        { return nil }

func result(id string, score float64) vectorstore.Result {
	return vectorstore.Result{Chunk: chunk.Chunk{ID: id, Content: "content " + id}, Score: score}
}

func TestRetrieve_FiltersBelowThreshold(t *testing.T) {
	store := &mockStore{results: []vectorstore.Result{
		result("a", 0.9), result("b", 0.6), result("c", 0.4), result("d", 0.1),
	}}
	embedder := &mockEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	r := NewRetriever(embedder, store, Config{TopK: 5, SimilarityThreshold: 0.5}, log.NewNop())

	got, err := r.Retrieve(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}
	if got[0].Chunk.ID != "a" || got[1].Chunk.ID != "b" {
		t.Errorf("candidates = %v, want [a b]", got)
	}
}

func TestRetrieve_FetchesDoubleTopK(t *testing.T) {
	store := &mockStore{}
	embedder := &mockEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	r := NewRetriever(embedder, store, Config{TopK: 5, SimilarityThreshold: 0.5}, log.NewNop())

	if _, err := r.Retrieve(context.Background(), "q", nil); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if store.lastOpts.Limit != 10 {
		t.Errorf("search limit = %d, want 10", store.lastOpts.Limit)
	}
}

func TestRetrieve_DocumentFilter(t *testing.T) {
	store := &mockStore{}
	embedder := &mockEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	r := NewRetriever(embedder, store, Config{}, log.NewNop())

	if _, err := r.Retrieve(context.Background(), "q", []string{"a.pdf", "b.pdf"}); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if len(store.lastOpts.Documents) != 2 {
		t.Errorf("documents = %v, want [a.pdf b.pdf]", store.lastOpts.Documents)
	}
}

func TestRetrieve_EmbedFailureIsError(t *testing.T) {
	store := &mockStore{results: []vectorstore.Result{result("a", 0.9)}}
	embedder := &mockEmbedder{err: errors.New("provider down")}
	r := NewRetriever(embedder, store, Config{}, log.NewNop())

	got, err := r.Retrieve(context.Background(), "q", nil)
	if err == nil {
		t.Error("Retrieve() = nil error, want embedding failure")
	}
	if got != nil {
		t.Errorf("got %v, want no candidates", got)
	}
	if store.searchCalls != 0 {
		t.Errorf("search called %d times, want 0", store.searchCalls)
	}
}

func TestRetrieve_SearchFailureIsSoft(t *testing.T) {
	store := &mockStore{err: errors.New("db down")}
	embedder := &mockEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	r := NewRetriever(embedder, store, Config{}, log.NewNop())

	got, err := r.Retrieve(context.Background(), "q", nil)
	if err != nil {
		t.Errorf("Retrieve() error = %v, want degraded empty result", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil on search failure", got)
	}
}

// mockScorer is a scripted pair scorer.
type mockScorer struct {
	calls  int
	scores []float64
	err    error
}

func (m *mockScorer) Score(context.Context, string, []string) ([]float64, error) {
	m.calls++
	return m.scores, m.err
}

func TestRerank_SortsAndTruncates(t *testing.T) {
	scorer := &mockScorer{scores: []float64{0.2, 0.9, 0.7}}
	r := NewReranker(scorer, 2, log.NewNop())

	candidates := []vectorstore.Result{result("a", 0.9), result("b", 0.8), result("c", 0.7)}
	got := r.Rerank(context.Background(), "q", candidates)

	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].Chunk.ID != "b" || got[1].Chunk.ID != "c" {
		t.Errorf("order = [%s %s], want [b c]", got[0].Chunk.ID, got[1].Chunk.ID)
	}
	if got[0].RerankScore != 0.9 {
		t.Errorf("top rerank score = %v, want 0.9", got[0].RerankScore)
	}
	// The first-stage similarity is untouched by reranking.
	if got[0].Score != 0.8 {
		t.Errorf("top similarity = %v, want 0.8", got[0].Score)
	}
}

func TestRerank_ScorerFailurePreservesOrder(t *testing.T) {
	scorer := &mockScorer{err: errors.New("scorer down")}
	r := NewReranker(scorer, 5, log.NewNop())

	candidates := []vectorstore.Result{result("a", 0.9), result("b", 0.8), result("c", 0.7)}
	got := r.Rerank(context.Background(), "q", candidates)

	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	for i, id := range []string{"a", "b", "c"} {
		if got[i].Chunk.ID != id {
			t.Errorf("position %d = %s, want %s (original order)", i, got[i].Chunk.ID, id)
		}
		if got[i].RerankScore != neutralScore {
			t.Errorf("position %d rerank score = %v, want neutral %v", i, got[i].RerankScore, neutralScore)
		}
	}
}

func TestRerank_NilScorer(t *testing.T) {
	r := NewReranker(nil, 5, log.NewNop())

	candidates := []vectorstore.Result{result("a", 0.9), result("b", 0.8)}
	got := r.Rerank(context.Background(), "q", candidates)

	if len(got) != 2 || got[0].Chunk.ID != "a" {
		t.Errorf("nil scorer should preserve order, got %v", got)
	}
}

func TestRerank_Empty(t *testing.T) {
	scorer := &mockScorer{scores: []float64{}}
	r := NewReranker(scorer, 5, log.NewNop())

	if got := r.Rerank(context.Background(), "q", nil); got != nil {
		t.Errorf("got %v, want nil for empty candidates", got)
	}
	if scorer.calls != 0 {
		t.Errorf("scorer called %d times for empty input, want 0", scorer.calls)
	}
}

func TestRerank_DoesNotMutateInput(t *testing.T) {
	scorer := &mockScorer{scores: []float64{0.1, 0.9}}
	r := NewReranker(scorer, 5, log.NewNop())

	candidates := []vectorstore.Result{result("a", 0.9), result("b", 0.8)}
	r.Rerank(context.Background(), "q", candidates)

	if candidates[0].Chunk.ID != "a" || candidates[0].Score != 0.9 || candidates[0].RerankScore != 0 {
		t.Error("input slice was mutated")
	}
}

func TestEmbeddingScorer(t *testing.T) {
	embedder := &mockEmbedder{vectors: map[string][]float32{
		"query":    {1, 0, 0},
		"same":     {1, 0, 0},
		"opposite": {-1, 0, 0},
		"ortho":    {0, 1, 0},
	}}
	scorer := NewEmbeddingScorer(embedder)

	scores, err := scorer.Score(context.Background(), "query", []string{"same", "opposite", "ortho"})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}

	want := []float64{1.0, 0.0, 0.5}
	for i, w := range want {
		if math.Abs(scores[i]-w) > 1e-9 {
			t.Errorf("score %d = %v, want %v", i, scores[i], w)
		}
	}
	if embedder.embedCalls != 1 {
		t.Errorf("embed batches = %d, want 1", embedder.embedCalls)
	}
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	if got := cosineSimilarity([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Errorf("cosineSimilarity with zero vector = %v, want 0", got)
	}
	if got := cosineSimilarity([]float32{1}, []float32{1, 0}); got != 0 {
		t.Errorf("cosineSimilarity with mismatched lengths = %v, want 0", got)
	}
}
