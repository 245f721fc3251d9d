package config

import (
	"fmt"
	"log/slog"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Provider and credentials
	switch c.Provider.Name {
	case ProviderOpenAI:
		if c.Provider.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingAPIKey)
		}
	case ProviderGemini:
		if c.Provider.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required", ErrMissingAPIKey)
		}
	default:
		return fmt.Errorf("%w: %q is not supported, must be %q or %q",
			ErrInvalidProvider, c.Provider.Name, ProviderOpenAI, ProviderGemini)
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidServerPort, c.Server.Port)
	}

	// PostgreSQL
	if c.Postgres.Host == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.Postgres.Port)
	}
	if c.Postgres.Password == "veridoc_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres.password for production deployments")
	}
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.Postgres.SSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.Postgres.SSLMode, validSSLModes)
	}

	// Chunking: the stride (size - overlap) must be positive or segmentation
	// never advances.
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidChunking, c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("%w: overlap must be in [0, size), got overlap=%d size=%d",
			ErrInvalidChunking, c.Chunking.Overlap, c.Chunking.Size)
	}
	if c.Chunking.MinChars < 0 {
		return fmt.Errorf("%w: min_chars must be non-negative, got %d", ErrInvalidChunking, c.Chunking.MinChars)
	}

	// Retrieval
	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 100 {
		return fmt.Errorf("%w: top_k must be between 1 and 100, got %d", ErrInvalidRetrieval, c.Retrieval.TopK)
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be in [0, 1], got %.2f",
			ErrInvalidRetrieval, c.Retrieval.SimilarityThreshold)
	}
	if c.Rerank.TopK < 1 {
		return fmt.Errorf("%w: rerank top_k must be positive, got %d", ErrInvalidRetrieval, c.Rerank.TopK)
	}

	// Verification
	if c.Verification.ConfidenceThreshold < 0 || c.Verification.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence_threshold must be in [0, 1], got %.2f",
			ErrInvalidVerification, c.Verification.ConfidenceThreshold)
	}

	// Session
	if c.Session.MaxMessages < 1 {
		return fmt.Errorf("%w: max_messages must be positive, got %d", ErrInvalidSession, c.Session.MaxMessages)
	}
	if c.Session.MaxTokens < 1 {
		return fmt.Errorf("%w: max_tokens must be positive, got %d", ErrInvalidSession, c.Session.MaxTokens)
	}
	if c.Session.Store != SessionStoreRedis && c.Session.Store != SessionStoreMemory {
		return fmt.Errorf("%w: %q is not supported, must be %q or %q",
			ErrInvalidSessionStore, c.Session.Store, SessionStoreRedis, SessionStoreMemory)
	}

	return nil
}
