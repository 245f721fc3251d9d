// Package openai implements the provider contracts against the OpenAI HTTP
// API: embeddings, chat completions, and moderations.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/veridoc/veridoc/internal/provider"
)

// Compile-time contract checks.
var (
	_ provider.Embedder  = (*Client)(nil)
	_ provider.Generator = (*Client)(nil)
	_ provider.Moderator = (*Client)(nil)
)

// Model dimensions for OpenAI embedding models.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// Config holds client construction parameters.
type Config struct {
	APIKey         string
	BaseURL        string // defaults to https://api.openai.com/v1
	EmbeddingModel string // defaults to text-embedding-3-small
	ChatModel      string // defaults to gpt-4o-mini
}

// Client talks to the OpenAI API. It is safe for concurrent use.
type Client struct {
	apiKey         string
	baseURL        string
	embeddingModel string
	chatModel      string
	dimensions     int
	httpClient     *http.Client
}

// NewClient creates an OpenAI client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}

	dimensions, ok := modelDimensions[cfg.EmbeddingModel]
	if !ok {
		dimensions = 1536
	}

	return &Client{
		apiKey:         cfg.APIKey,
		baseURL:        cfg.BaseURL,
		embeddingModel: cfg.EmbeddingModel,
		chatModel:      cfg.ChatModel,
		dimensions:     dimensions,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

// Embed generates embeddings for multiple texts, index-aligned with the input.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := embeddingRequest{
		Input:          texts,
		Model:          c.embeddingModel,
		EncodingFormat: "float",
	}

	var resp embeddingResponse
	if err := c.doRequest(ctx, "/embeddings", reqBody, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("OpenAI API error: %s (type: %s, code: %s)",
			resp.Error.Message, resp.Error.Type, resp.Error.Code)
	}

	// Results arrive with an index field; realign to the input order.
	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}
	return embeddings, nil
}

// EmbedQuery generates an embedding for a single search query.
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	embeddings, err := c.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 || embeddings[0] == nil {
		return nil, fmt.Errorf("no embedding returned for query")
	}
	return embeddings[0], nil
}

// Dimensions returns the embedding dimension size.
func (c *Client) Dimensions() int {
	return c.dimensions
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

// Generate produces a chat completion.
func (c *Client) Generate(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	reqBody := chatRequest{
		Model:       c.chatModel,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var resp chatResponse
	if err := c.doRequest(ctx, "/chat/completions", reqBody, &resp); err != nil {
		return provider.GenerateResult{}, err
	}
	if resp.Error != nil {
		return provider.GenerateResult{}, fmt.Errorf("OpenAI API error: %s (type: %s, code: %s)",
			resp.Error.Message, resp.Error.Type, resp.Error.Code)
	}
	if len(resp.Choices) == 0 {
		return provider.GenerateResult{}, fmt.Errorf("no completion choices returned")
	}

	return provider.GenerateResult{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

type moderationRequest struct {
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged    bool            `json:"flagged"`
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
	Error *apiError `json:"error,omitempty"`
}

// Moderate classifies content with the moderation endpoint. Categories lists
// every flagged category name in sorted order.
func (c *Client) Moderate(ctx context.Context, content string) (provider.ModerationResult, error) {
	var resp moderationResponse
	if err := c.doRequest(ctx, "/moderations", moderationRequest{Input: content}, &resp); err != nil {
		return provider.ModerationResult{}, err
	}
	if resp.Error != nil {
		return provider.ModerationResult{}, fmt.Errorf("OpenAI API error: %s (type: %s, code: %s)",
			resp.Error.Message, resp.Error.Type, resp.Error.Code)
	}
	if len(resp.Results) == 0 {
		return provider.ModerationResult{}, fmt.Errorf("no moderation results returned")
	}

	result := resp.Results[0]
	var categories []string
	for name, flagged := range result.Categories {
		if flagged {
			categories = append(categories, name)
		}
	}
	sort.Strings(categories)

	return provider.ModerationResult{
		Flagged:    result.Flagged,
		Categories: categories,
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// doRequest posts a JSON body and decodes the JSON response.
func (c *Client) doRequest(ctx context.Context, path string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error *apiError `json:"error"`
		}
		if json.Unmarshal(respBody, &e) == nil && e.Error != nil {
			return fmt.Errorf("OpenAI API error: %s (type: %s, code: %s)",
				e.Error.Message, e.Error.Type, e.Error.Code)
		}
		return fmt.Errorf("OpenAI API returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}
