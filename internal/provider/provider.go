// Package provider defines the AI capability contracts consumed by the
// query pipeline. Implementations live in the provider subpackages; the
// pipeline never depends on a concrete backend.
package provider

import "context"

// Embedder turns text into dense vectors.
type Embedder interface {
	// Embed embeds a batch of texts. The result is index-aligned with the
	// input.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)

	// Dimensions returns the vector size produced by the model.
	Dimensions() int
}

// GenerateRequest is a single completion request.
type GenerateRequest struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// GenerateResult is the model output plus token accounting.
type GenerateResult struct {
	Text       string
	TokensUsed int
}

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}

// ModerationResult reports content policy classification.
// Categories holds the names of every category the backend flagged;
// which of those block a request is the caller's policy.
type ModerationResult struct {
	Flagged    bool
	Categories []string
}

// Moderator classifies content against a safety policy.
type Moderator interface {
	Moderate(ctx context.Context, content string) (ModerationResult, error)
}
