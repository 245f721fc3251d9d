// Package query orchestrates a single question-answering turn: input
// moderation, retrieval, reranking, grounded generation, output moderation,
// and verification, with optional conversation memory.
package query

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/veridoc/veridoc/internal/generation"
	"github.com/veridoc/veridoc/internal/log"
	"github.com/veridoc/veridoc/internal/moderation"
	"github.com/veridoc/veridoc/internal/retrieval"
	"github.com/veridoc/veridoc/internal/session"
	"github.com/veridoc/veridoc/internal/vectorstore"
	"github.com/veridoc/veridoc/internal/verification"
)

// Sentinel errors.
var (
	ErrEmptyQuery = errors.New("query is empty")
	ErrNotReady   = errors.New("orchestrator dependency missing")
)

// Outcome classifies a completed turn. Hard failures are returned as errors
// instead, never as an Outcome.
type Outcome string

const (
	// OutcomeAnswer is a grounded answer backed by retrieved context.
	OutcomeAnswer Outcome = "answer"

	// OutcomeRefusal means a safety policy blocked the input or replaced
	// the output.
	OutcomeRefusal Outcome = "refusal"

	// OutcomeNoInformation means retrieval produced no usable context.
	OutcomeNoInformation Outcome = "no_information"
)

// noInformationMessage is the user-facing answer for empty retrieval.
const noInformationMessage = "I could not find any relevant information in the documents to answer your question."

// historyWindow is how many prior messages the chat prompt carries.
const historyWindow = 4

// Session lock parameters. Lock contention means another turn of the same
// conversation is in flight; after the retries we proceed without the lock
// rather than fail the turn.
const (
	lockTTL        = 30 * time.Second
	lockRetries    = 3
	lockRetryDelay = 100 * time.Millisecond
)

// Request is one user query.
type Request struct {
	Query     string   `json:"query"`
	SessionID string   `json:"session_id,omitempty"` // empty runs the turn stateless
	Documents []string `json:"documents,omitempty"`  // restrict retrieval to these documents
}

// Source is the provenance of one context chunk used for the answer. It
// carries both retrieval stages' judgments: the first-stage vector
// similarity and the reranker's score.
type Source struct {
	ChunkID         string  `json:"chunk_id"`
	Document        string  `json:"document"`
	PageNumber      int     `json:"page_number"`
	SimilarityScore float64 `json:"similarity_score"`
	RerankScore     float64 `json:"rerank_score"`
}

// Response is the result of a completed turn. Verified and Confidence
// summarize the verification verdict; the full breakdown with component
// scores sits in Verification when a verifier ran.
type Response struct {
	Outcome      Outcome                 `json:"outcome"`
	Query        string                  `json:"query"`
	Answer       string                  `json:"answer"`
	SessionID    string                  `json:"session_id,omitempty"`
	Sources      []Source                `json:"sources,omitempty"`
	Evidence     []verification.Evidence `json:"evidence,omitempty"`
	PageNumbers  []int                   `json:"page_numbers,omitempty"`
	Verified     bool                    `json:"verified"`
	Confidence   float64                 `json:"confidence_score"`
	Verification *verification.Result    `json:"verification,omitempty"`
	ContextUsed  int                     `json:"context_used"`
	TokensUsed   int                     `json:"tokens_used"`
}

// Params wires an Orchestrator.
//
// Verifier may be nil to disable verification: answers then pass through
// with full confidence. Store and Locker may be nil for a stateless-only
// deployment; requests carrying a session ID fail in that case.
type Params struct {
	Gate       *moderation.Gate
	Retriever  *retrieval.Retriever
	Reranker   *retrieval.Reranker
	Generator  *generation.Generator
	Verifier   *verification.Verifier
	Store      session.Store
	Locker     session.Locker
	SessionCfg session.Config
	Logger     log.Logger
}

// Orchestrator runs query turns. It is safe for concurrent use.
type Orchestrator struct {
	gate       *moderation.Gate
	retriever  *retrieval.Retriever
	reranker   *retrieval.Reranker
	generator  *generation.Generator
	verifier   *verification.Verifier
	store      session.Store
	locker     session.Locker
	sessionCfg session.Config
	logger     log.Logger
}

// New creates an Orchestrator.
func New(p Params) (*Orchestrator, error) {
	if p.Gate == nil || p.Retriever == nil || p.Reranker == nil || p.Generator == nil {
		return nil, ErrNotReady
	}
	if p.Logger == nil {
		p.Logger = log.NewNop()
	}
	return &Orchestrator{
		gate:       p.Gate,
		retriever:  p.Retriever,
		reranker:   p.Reranker,
		generator:  p.Generator,
		verifier:   p.Verifier,
		store:      p.Store,
		locker:     p.Locker,
		sessionCfg: p.SessionCfg,
		logger:     p.Logger,
	}, nil
}

// Answer runs one turn. Only infrastructure failures on the critical path
// (query embedding, generation, fail-closed moderation, session
// persistence) return errors; everything else degrades into the response.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*Response, error) {
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}
	if req.SessionID != "" && o.store == nil {
		return nil, fmt.Errorf("%w: session store not configured", ErrNotReady)
	}

	if req.SessionID != "" {
		release := o.lockSession(ctx, req.SessionID)
		defer release()
	}

	// Input moderation runs before anything else; a flagged query makes no
	// provider or store calls at all.
	decision, err := o.gate.Check(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("moderating query: %w", err)
	}
	if decision.Flagged {
		o.logger.Info("query refused by safety policy", "categories", decision.Categories)
		return &Response{
			Outcome:   OutcomeRefusal,
			Query:     req.Query,
			Answer:    moderation.InputRefusalMessage(decision.Categories),
			SessionID: req.SessionID,
		}, nil
	}

	sess, transcript, hadHistory, err := o.loadSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		sess.Append(session.RoleUser, req.Query, o.sessionCfg)
		if err := o.store.Save(ctx, sess); err != nil {
			return nil, fmt.Errorf("saving session: %w", err)
		}
	}

	candidates, err := o.retriever.Retrieve(ctx, req.Query, req.Documents)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}
	if len(candidates) == 0 {
		return o.finishTurn(ctx, sess, &Response{
			Outcome:   OutcomeNoInformation,
			Query:     req.Query,
			Answer:    noInformationMessage,
			SessionID: req.SessionID,
		}, nil)
	}

	contextChunks := o.reranker.Rerank(ctx, req.Query, candidates)

	var genResult generation.Result
	if hadHistory {
		genResult, err = o.generator.GenerateWithHistory(ctx, req.Query, contextChunks, transcript)
	} else {
		genResult, err = o.generator.Generate(ctx, req.Query, contextChunks)
	}
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	resp := &Response{
		Outcome:     OutcomeAnswer,
		Query:       req.Query,
		Answer:      genResult.Answer,
		SessionID:   req.SessionID,
		Sources:     buildSources(contextChunks),
		PageNumbers: pageNumbers(contextChunks),
		ContextUsed: len(contextChunks),
		TokensUsed:  genResult.TokensUsed,
	}

	// Output moderation replaces a flagged answer but the turn still
	// succeeds: the user gets the refusal text with normal provenance, and
	// verification below scores whatever answer the user will actually see.
	outDecision, err := o.gate.Check(ctx, genResult.Answer)
	if err != nil {
		return nil, fmt.Errorf("moderating answer: %w", err)
	}
	if outDecision.Flagged {
		o.logger.Info("generated answer refused by safety policy", "categories", outDecision.Categories)
		resp.Outcome = OutcomeRefusal
		resp.Answer = moderation.OutputRefusalMessage(outDecision.Categories)
	}

	if o.verifier != nil {
		verdict := o.verifier.Verify(req.Query, resp.Answer, contextChunks)
		resp.Verified = verdict.MeetsThreshold
		resp.Confidence = verdict.Confidence
		resp.Evidence = verdict.Evidence
		resp.Verification = &verdict
	} else {
		resp.Verified = true
		resp.Confidence = 1.0
	}

	return o.finishTurn(ctx, sess, resp, contextChunks)
}

// lockSession serializes turns of the same session. Contention past the
// retry budget is logged and the turn proceeds unlocked.
func (o *Orchestrator) lockSession(ctx context.Context, sessionID string) (release func()) {
	if o.locker == nil {
		return func() {}
	}

	for attempt := 0; attempt < lockRetries; attempt++ {
		ok, err := o.locker.Acquire(ctx, sessionID, lockTTL)
		if err != nil {
			o.logger.Warn("session lock unavailable, proceeding without it", "error", err)
			return func() {}
		}
		if ok {
			return func() {
				if err := o.locker.Release(context.WithoutCancel(ctx), sessionID); err != nil {
					o.logger.Warn("session lock release failed", "session_id", sessionID, "error", err)
				}
			}
		}
		time.Sleep(lockRetryDelay)
	}

	o.logger.Warn("session lock contended, proceeding without it", "session_id", sessionID)
	return func() {}
}

// loadSession returns the session for the ID (creating a new one for
// unknown IDs), the pre-turn transcript for the chat prompt, and whether
// prior turns exist. A stateless request returns a nil session.
func (o *Orchestrator) loadSession(ctx context.Context, sessionID string) (*session.Session, string, bool, error) {
	if sessionID == "" {
		return nil, "", false, nil
	}

	sess, err := o.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return session.New(sessionID), "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("loading session: %w", err)
	}
	return sess, sess.Transcript(historyWindow), len(sess.Messages) > 0, nil
}

// finishTurn records the assistant message with its provenance metadata,
// unions the documents used, then persists the session.
func (o *Orchestrator) finishTurn(ctx context.Context, sess *session.Session, resp *Response, contextChunks []vectorstore.Result) (*Response, error) {
	if sess == nil {
		return resp, nil
	}

	var metadata map[string]any
	if len(contextChunks) > 0 {
		documents := make([]string, 0, len(contextChunks))
		for _, c := range contextChunks {
			if !slices.Contains(documents, c.Chunk.Document) {
				documents = append(documents, c.Chunk.Document)
			}
		}
		metadata = map[string]any{
			"documents_used":   documents,
			"confidence_score": resp.Confidence,
		}
	}

	sess.AppendWithMetadata(session.RoleAssistant, resp.Answer, metadata, o.sessionCfg)
	for _, c := range contextChunks {
		sess.AddDocuments(c.Chunk.Document)
	}
	if err := o.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	return resp, nil
}

func buildSources(contextChunks []vectorstore.Result) []Source {
	sources := make([]Source, len(contextChunks))
	for i, c := range contextChunks {
		sources[i] = Source{
			ChunkID:         c.Chunk.ID,
			Document:        c.Chunk.Document,
			PageNumber:      c.Chunk.PageNumber,
			SimilarityScore: c.Score,
			RerankScore:     c.RerankScore,
		}
	}
	return sources
}

// pageNumbers returns the distinct page numbers of the context, ascending.
func pageNumbers(contextChunks []vectorstore.Result) []int {
	seen := make(map[int]bool)
	var pages []int
	for _, c := range contextChunks {
		if !seen[c.Chunk.PageNumber] {
			seen[c.Chunk.PageNumber] = true
			pages = append(pages, c.Chunk.PageNumber)
		}
	}
	sort.Ints(pages)
	return pages
}
