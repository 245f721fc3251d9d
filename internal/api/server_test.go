package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/veridoc/veridoc/internal/chunk"
	"github.com/veridoc/veridoc/internal/generation"
	"github.com/veridoc/veridoc/internal/ingest"
	"github.com/veridoc/veridoc/internal/log"
	"github.com/veridoc/veridoc/internal/moderation"
	"github.com/veridoc/veridoc/internal/provider"
	"github.com/veridoc/veridoc/internal/query"
	"github.com/veridoc/veridoc/internal/retrieval"
	"github.com/veridoc/veridoc/internal/session"
	"github.com/veridoc/veridoc/internal/vectorstore"
	"github.com/veridoc/veridoc/internal/verification"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (stubEmbedder) Dimensions() int { return 2 }

type stubVectorStore struct {
	results []vectorstore.Result
	pingErr error
}

func (s *stubVectorStore) Upsert(context.Context, []chunk.Chunk, [][]float32) error { return nil }

func (s *stubVectorStore) Search(context.Context, []float32, ...vectorstore.SearchOption) ([]vectorstore.Result, error) {
	return s.results, nil
}

func (s *stubVectorStore) Delete(context.Context, []string) error            { return nil }
func (s *stubVectorStore) DeleteDocument(context.Context, string) error      { return nil }
func (s *stubVectorStore) HasDocument(context.Context, string) (bool, error) { return false, nil }
func (s *stubVectorStore) Ping(context.Context) error                        { return s.pingErr }

type stubGenerator struct{}

func (stubGenerator) Generate(context.Context, provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{Text: "Total revenue was $12M.", TokensUsed: 42}, nil
}

func newTestServer(t *testing.T, cfg Config) (*Server, *stubVectorStore, *session.MemoryStore) {
	t.Helper()

	chunks := &stubVectorStore{results: []vectorstore.Result{
		{
			Chunk: chunk.Chunk{
				ID:         "report.pdf_p3_c0",
				Document:   "report.pdf",
				Content:    "Total revenue was $12M.",
				PageNumber: 3,
			},
			Score: 0.91,
		},
	}}
	sessions := session.NewMemoryStore()

	orch, err := query.New(query.Params{
		Gate:      moderation.NewGate(nil, moderation.Config{}, nil),
		Retriever: retrieval.NewRetriever(stubEmbedder{}, chunks, retrieval.Config{}, nil),
		Reranker:  retrieval.NewReranker(nil, 0, nil),
		Generator: generation.NewGenerator(stubGenerator{}, generation.Config{}, nil),
		Verifier:  verification.NewVerifier(0, nil),
		Store:     sessions,
		Locker:    session.NewMemoryLock(),
	})
	if err != nil {
		t.Fatalf("query.New() error = %v", err)
	}

	chunker := chunk.NewChunker(chunk.Config{Size: 60, Overlap: 10, MinChars: 10}, log.NewNop())
	indexer := ingest.NewIndexer(chunker, stubEmbedder{}, chunks, 0, nil)

	return NewServer(cfg, Params{
		Orchestrator: orch,
		Indexer:      indexer,
		Sessions:     sessions,
		Chunks:       chunks,
	}), chunks, sessions
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	w := doRequest(t, srv, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestReady(t *testing.T) {
	srv, chunks, _ := newTestServer(t, Config{})

	w := doRequest(t, srv, http.MethodGet, "/ready", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	chunks.pingErr = context.DeadlineExceeded
	w = doRequest(t, srv, http.MethodGet, "/ready", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status with failing store = %d, want 503", w.Code)
	}
}

func TestQueryEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	w := doRequest(t, srv, http.MethodPost, "/api/query", `{"query":"What was the revenue?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp query.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Outcome != query.OutcomeAnswer {
		t.Errorf("outcome = %q, want %q", resp.Outcome, query.OutcomeAnswer)
	}
	if resp.Answer == "" || resp.TokensUsed != 42 {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Document != "report.pdf" {
		t.Errorf("sources = %+v", resp.Sources)
	}
}

func TestQueryEndpoint_BadRequests(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed JSON", `{"query":`, http.StatusBadRequest},
		{"unknown field", `{"q":"hello"}`, http.StatusBadRequest},
		{"empty query", `{"query":""}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, srv, http.MethodPost, "/api/query", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestIngestEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	body := `{"name":"report.pdf","pages":[{"number":1,"text":"` +
		strings.Repeat("alpha beta gamma delta ", 5) + `"}]}`
	w := doRequest(t, srv, http.MethodPost, "/api/ingest", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var summary ingest.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if summary.Document != "report.pdf" || summary.Chunks == 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestIngestEndpoint_EmptyDocument(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	w := doRequest(t, srv, http.MethodPost, "/api/ingest", `{"name":"","pages":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	srv, _, sessions := newTestServer(t, Config{})
	ctx := context.Background()

	sess := session.New("s1")
	sess.Append(session.RoleUser, "question", session.Config{})
	sess.Append(session.RoleAssistant, "answer", session.Config{})
	if err := sessions.Save(ctx, sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	w := doRequest(t, srv, http.MethodGet, "/api/chat/history/s1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get history status = %d", w.Code)
	}
	var got session.Session
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if got.ID != "s1" || len(got.Messages) != 2 {
		t.Errorf("session = %+v", got)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/chat/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if list.Count != 1 {
		t.Errorf("count = %d, want 1", list.Count)
	}

	w = doRequest(t, srv, http.MethodDelete, "/api/chat/history/s1", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/chat/history/s1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{RPS: 0.001, Burst: 10})

	// Query turns are weighted at five tokens apiece, so two of them
	// drain a burst that would cover ten cheap reads.
	for i := 0; i < 2; i++ {
		if w := doRequest(t, srv, http.MethodPost, "/api/query", `{"query":"what is the revenue?"}`); w.Code != http.StatusOK {
			t.Fatalf("query %d status = %d, want 200", i, w.Code)
		}
	}

	w := doRequest(t, srv, http.MethodGet, "/health", "")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestRateLimit_CheapRoutesAreCheap(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{RPS: 0.001, Burst: 10})

	for i := 0; i < 10; i++ {
		if w := doRequest(t, srv, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, w.Code)
		}
	}
	if w := doRequest(t, srv, http.MethodGet, "/health", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 after the burst", w.Code)
	}
}

func TestRequestCost(t *testing.T) {
	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodPost, "/api/query", costQuery},
		{http.MethodPost, "/api/ingest", costIngest},
		{http.MethodGet, "/api/query", costDefault},
		{http.MethodGet, "/health", costDefault},
		{http.MethodPost, "/api/other", costDefault},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(tt.method, tt.path, nil)
		if got := requestCost(r); got != tt.want {
			t.Errorf("requestCost(%s %s) = %d, want %d", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})
	srv.mux.HandleFunc("GET /panic", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	w := doRequest(t, srv, http.MethodGet, "/panic", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{"remote addr", "10.0.0.1:5000", nil, false, "10.0.0.1"},
		{"untrusted proxy headers ignored", "10.0.0.1:5000",
			map[string]string{"X-Real-IP": "203.0.113.7"}, false, "10.0.0.1"},
		{"x-real-ip", "10.0.0.1:5000",
			map[string]string{"X-Real-IP": "203.0.113.7"}, true, "203.0.113.7"},
		{"x-forwarded-for first hop", "10.0.0.1:5000",
			map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2"}, true, "203.0.113.7"},
		{"invalid header falls back", "10.0.0.1:5000",
			map[string]string{"X-Real-IP": "not-an-ip"}, true, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := clientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
