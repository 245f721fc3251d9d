// Package generation produces grounded answers from retrieved chunks.
package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/veridoc/veridoc/internal/log"
	"github.com/veridoc/veridoc/internal/provider"
	"github.com/veridoc/veridoc/internal/vectorstore"
)

// systemPrompt constrains the model to the retrieved context. Citations are
// forbidden inline; provenance travels separately in the response sources.
const systemPrompt = `You are a document question-answering assistant.

Answer the question using ONLY the information in the provided sources.

Rules:
- Never use information that is not present in the sources.
- If the sources do not contain the answer, say that the documents do not contain this information.
- Include exact values, dates, units, and names as they appear in the sources.
- Do not add inline citations such as [Source 1] to your answer; provenance is attached separately.
- Be concise and factual.`

// Defaults applied by NewGenerator for zero-valued fields.
const (
	DefaultTemperature float32 = 0.1
	DefaultMaxTokens           = 2000
)

// Config controls generation sampling.
type Config struct {
	Temperature float32
	MaxTokens   int
}

// Result is a successful generation.
type Result struct {
	Answer     string
	TokensUsed int
}

// Generator builds grounded prompts and calls the completion backend.
type Generator struct {
	backend provider.Generator
	cfg     Config
	logger  log.Logger
}

// NewGenerator creates a Generator. Zero-valued config fields fall back to
// the package defaults.
func NewGenerator(backend provider.Generator, cfg Config, logger log.Logger) *Generator {
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Generator{backend: backend, cfg: cfg, logger: logger}
}

// Generate answers a single-turn query from the given chunks.
func (g *Generator) Generate(ctx context.Context, query string, chunks []vectorstore.Result) (Result, error) {
	prompt := fmt.Sprintf("Sources:\n\n%s\n\nQuestion: %s", buildContext(chunks), query)
	return g.complete(ctx, prompt)
}

// GenerateWithHistory answers a follow-up query, embedding the conversation
// transcript so the model can resolve references to earlier turns.
func (g *Generator) GenerateWithHistory(ctx context.Context, query string, chunks []vectorstore.Result, transcript string) (Result, error) {
	prompt := fmt.Sprintf("Conversation so far:\n\n%s\n\nSources:\n\n%s\n\nQuestion: %s",
		transcript, buildContext(chunks), query)
	return g.complete(ctx, prompt)
}

func (g *Generator) complete(ctx context.Context, prompt string) (Result, error) {
	resp, err := g.backend.Generate(ctx, provider.GenerateRequest{
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("generating answer: %w", err)
	}

	answer := strings.TrimSpace(resp.Text)
	if answer == "" {
		return Result{}, fmt.Errorf("empty answer from generation backend")
	}

	g.logger.Debug("answer generated", "tokens_used", resp.TokensUsed, "answer_len", len(answer))
	return Result{Answer: answer, TokensUsed: resp.TokensUsed}, nil
}

// buildContext renders chunks as numbered source blocks with document and
// page provenance headers.
func buildContext(chunks []vectorstore.Result) string {
	blocks := make([]string, len(chunks))
	for i, c := range chunks {
		blocks[i] = fmt.Sprintf("[Source %d: %s (Page %d)]\n%s",
			i+1, c.Chunk.Document, c.Chunk.PageNumber, c.Chunk.Content)
	}
	return strings.Join(blocks, "\n---\n")
}
