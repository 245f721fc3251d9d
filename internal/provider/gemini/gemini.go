// Package gemini implements the embedding and generation contracts against
// the Gemini API via the google.golang.org/genai SDK.
//
// Gemini has no moderation endpoint; when this provider is selected the
// moderation gate runs disabled unless an OpenAI key is also configured.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/veridoc/veridoc/internal/provider"
)

// Compile-time contract checks.
var (
	_ provider.Embedder  = (*Client)(nil)
	_ provider.Generator = (*Client)(nil)
)

// Config holds client construction parameters.
type Config struct {
	APIKey         string
	EmbeddingModel string // defaults to gemini-embedding-001
	ChatModel      string // defaults to gemini-2.5-flash
	Dimensions     int    // defaults to 1536, matching the vector schema
}

// Client talks to the Gemini API. The underlying genai client is created per
// call; it carries no connection state worth pooling.
type Client struct {
	apiKey         string
	embeddingModel string
	chatModel      string
	dimensions     int
}

// NewClient creates a Gemini client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "gemini-embedding-001"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gemini-2.5-flash"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1536
	}

	return &Client{
		apiKey:         cfg.APIKey,
		embeddingModel: cfg.EmbeddingModel,
		chatModel:      cfg.ChatModel,
		dimensions:     cfg.Dimensions,
	}, nil
}

func (c *Client) newClient(ctx context.Context) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

// Embed generates embeddings for multiple texts, index-aligned with the
// input. Output vectors are truncated to the configured dimensionality.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	client, err := c.newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: text}}})
	}

	resp, err := client.Models.EmbedContent(ctx, c.embeddingModel, contents, &genai.EmbedContentConfig{
		TaskType:             "RETRIEVAL_DOCUMENT",
		OutputDimensionality: genai.Ptr(int32(c.dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding content: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	embeddings := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		embeddings[i] = e.Values
	}
	return embeddings, nil
}

// EmbedQuery generates an embedding for a single search query.
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	client, err := c.newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	resp, err := client.Models.EmbedContent(ctx, c.embeddingModel,
		[]*genai.Content{{Parts: []*genai.Part{{Text: query}}}},
		&genai.EmbedContentConfig{
			TaskType:             "RETRIEVAL_QUERY",
			OutputDimensionality: genai.Ptr(int32(c.dimensions)),
		})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding values returned")
	}
	return resp.Embeddings[0].Values, nil
}

// Dimensions returns the embedding dimension size.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Generate produces a completion.
func (c *Client) Generate(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	client, err := c.newClient(ctx)
	if err != nil {
		return provider.GenerateResult{}, fmt.Errorf("creating genai client: %w", err)
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	resp, err := client.Models.GenerateContent(ctx, c.chatModel,
		[]*genai.Content{{Parts: []*genai.Part{{Text: req.Prompt}}}}, cfg)
	if err != nil {
		return provider.GenerateResult{}, fmt.Errorf("generating content: %w", err)
	}

	result := provider.GenerateResult{Text: strings.TrimSpace(resp.Text())}
	if resp.UsageMetadata != nil {
		result.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return result, nil
}
