// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./config.yaml or /etc/veridoc/config.yaml)
//  3. Default values
//
// Security: sensitive data (passwords, API keys) is masked in MarshalJSON and
// String, so a Config can be logged safely.
//
// Error handling uses sentinel errors so callers can match with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the selected provider has no API key.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidServerPort indicates the HTTP port is out of range.
	ErrInvalidServerPort = errors.New("invalid server port")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidChunking indicates the chunking window/overlap combination is unusable.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidRetrieval indicates retrieval top-k or threshold is out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval parameters")

	// ErrInvalidVerification indicates the confidence threshold is out of range.
	ErrInvalidVerification = errors.New("invalid verification parameters")

	// ErrInvalidSession indicates session bounds are out of range.
	ErrInvalidSession = errors.New("invalid session parameters")

	// ErrInvalidSessionStore indicates an unknown session store backend.
	ErrInvalidSessionStore = errors.New("invalid session store")
)

// AI provider identifiers used in ProviderConfig.Name.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Session store backends used in SessionConfig.Store.
const (
	SessionStoreRedis  = "redis"
	SessionStoreMemory = "memory"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string  `mapstructure:"host" json:"host"`
	Port           int     `mapstructure:"port" json:"port"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`
	TrustProxy     bool    `mapstructure:"trust_proxy" json:"trust_proxy"` // trust X-Real-IP/X-Forwarded-For behind a reverse proxy
}

// PostgresConfig holds the vector store database connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"password" json:"password"` // SENSITIVE: masked in MarshalJSON
	DBName   string `mapstructure:"db_name" json:"db_name"`
	SSLMode  string `mapstructure:"ssl_mode" json:"ssl_mode"`
}

// DSN returns the PostgreSQL connection string for pgx.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

// MarshalJSON masks the password.
func (p PostgresConfig) MarshalJSON() ([]byte, error) {
	type alias PostgresConfig
	a := alias(p)
	a.Password = maskSecret(a.Password)
	return json.Marshal(a)
}

// RedisConfig holds the session store connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"password"` // SENSITIVE: masked in MarshalJSON
	DB       int    `mapstructure:"db" json:"db"`
}

// MarshalJSON masks the password.
func (r RedisConfig) MarshalJSON() ([]byte, error) {
	type alias RedisConfig
	a := alias(r)
	a.Password = maskSecret(a.Password)
	return json.Marshal(a)
}

// ProviderConfig selects the AI provider and carries its credentials.
type ProviderConfig struct {
	Name          string `mapstructure:"name" json:"name"`                     // "openai" (default) or "gemini"
	OpenAIAPIKey  string `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON
	OpenAIBaseURL string `mapstructure:"openai_base_url" json:"openai_base_url"`
	GeminiAPIKey  string `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE: masked in MarshalJSON
}

// MarshalJSON masks both API keys.
func (p ProviderConfig) MarshalJSON() ([]byte, error) {
	type alias ProviderConfig
	a := alias(p)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	a.GeminiAPIKey = maskSecret(a.GeminiAPIKey)
	return json.Marshal(a)
}

// EmbeddingConfig selects the embedding model.
type EmbeddingConfig struct {
	Model      string `mapstructure:"model" json:"model"`
	Dimensions int    `mapstructure:"dimensions" json:"dimensions"`
}

// GenerationConfig controls the answer generation model.
type GenerationConfig struct {
	Model       string  `mapstructure:"model" json:"model"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`
}

// ChunkingConfig controls page segmentation.
type ChunkingConfig struct {
	Size     int `mapstructure:"size" json:"size"`           // window size in characters
	Overlap  int `mapstructure:"overlap" json:"overlap"`     // characters shared between adjacent chunks
	MinChars int `mapstructure:"min_chars" json:"min_chars"` // discard chunks shorter than this after trimming
}

// RetrievalConfig controls vector search.
type RetrievalConfig struct {
	TopK                int     `mapstructure:"top_k" json:"top_k"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" json:"similarity_threshold"`
}

// RerankConfig controls second-stage reordering.
type RerankConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	TopK    int  `mapstructure:"top_k" json:"top_k"`
}

// VerificationConfig controls post-generation answer checking.
type VerificationConfig struct {
	Enabled             bool    `mapstructure:"enabled" json:"enabled"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" json:"confidence_threshold"`
}

// ModerationConfig controls content policy checks.
type ModerationConfig struct {
	Enabled  bool `mapstructure:"enabled" json:"enabled"`
	FailOpen bool `mapstructure:"fail_open" json:"fail_open"` // pass content through when the moderation backend is unreachable
}

// SessionConfig bounds conversation memory.
type SessionConfig struct {
	Store       string `mapstructure:"store" json:"store"` // "redis" (default) or "memory"
	MaxMessages int    `mapstructure:"max_messages" json:"max_messages"`
	MaxTokens   int    `mapstructure:"max_tokens" json:"max_tokens"`
	TTLHours    int    `mapstructure:"ttl_hours" json:"ttl_hours"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level     string `mapstructure:"level" json:"level"` // debug, info, warn, error
	JSON      bool   `mapstructure:"json" json:"json"`
	AddSource bool   `mapstructure:"add_source" json:"add_source"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are masked via the nested MarshalJSON methods.
// When adding new sensitive fields, update the owning struct's MarshalJSON.
type Config struct {
	Server       ServerConfig       `mapstructure:"server" json:"server"`
	Postgres     PostgresConfig     `mapstructure:"postgres" json:"postgres"`
	Redis        RedisConfig        `mapstructure:"redis" json:"redis"`
	Provider     ProviderConfig     `mapstructure:"provider" json:"provider"`
	Embedding    EmbeddingConfig    `mapstructure:"embedding" json:"embedding"`
	Generation   GenerationConfig   `mapstructure:"generation" json:"generation"`
	Chunking     ChunkingConfig     `mapstructure:"chunking" json:"chunking"`
	Retrieval    RetrievalConfig    `mapstructure:"retrieval" json:"retrieval"`
	Rerank       RerankConfig       `mapstructure:"rerank" json:"rerank"`
	Verification VerificationConfig `mapstructure:"verification" json:"verification"`
	Moderation   ModerationConfig   `mapstructure:"moderation" json:"moderation"`
	Session      SessionConfig      `mapstructure:"session" json:"session"`
	Log          LogConfig          `mapstructure:"log" json:"log"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/veridoc")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is not an error, defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{".", "/etc/veridoc"},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Validate immediately (fail-fast).
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.rate_limit_rps", 5.0)
	viper.SetDefault("server.rate_limit_burst", 10)
	viper.SetDefault("server.trust_proxy", false)

	// PostgreSQL defaults (local development)
	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", 5432)
	viper.SetDefault("postgres.user", "veridoc")
	viper.SetDefault("postgres.password", "veridoc_dev_password")
	viper.SetDefault("postgres.db_name", "veridoc")
	viper.SetDefault("postgres.ssl_mode", "disable")

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Provider defaults
	viper.SetDefault("provider.name", ProviderOpenAI)
	viper.SetDefault("provider.openai_base_url", "https://api.openai.com/v1")

	// Embedding defaults
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dimensions", 1536)

	// Generation defaults
	viper.SetDefault("generation.model", "gpt-4o-mini")
	viper.SetDefault("generation.temperature", 0.1)
	viper.SetDefault("generation.max_tokens", 2000)

	// Chunking defaults
	viper.SetDefault("chunking.size", 500)
	viper.SetDefault("chunking.overlap", 100)
	viper.SetDefault("chunking.min_chars", 50)

	// Retrieval defaults
	viper.SetDefault("retrieval.top_k", 5)
	viper.SetDefault("retrieval.similarity_threshold", 0.5)

	// Rerank defaults
	viper.SetDefault("rerank.enabled", true)
	viper.SetDefault("rerank.top_k", 5)

	// Verification defaults
	viper.SetDefault("verification.enabled", true)
	viper.SetDefault("verification.confidence_threshold", 0.7)

	// Moderation defaults
	viper.SetDefault("moderation.enabled", true)
	viper.SetDefault("moderation.fail_open", true)

	// Session defaults
	viper.SetDefault("session.store", SessionStoreRedis)
	viper.SetDefault("session.max_messages", 20)
	viper.SetDefault("session.max_tokens", 4000)
	viper.SetDefault("session.ttl_hours", 24)

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", false)
	viper.SetDefault("log.add_source", false)
}

// bindEnvVariables binds environment variables explicitly.
// Secrets come only from the environment, never from config files in
// production deployments.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider.openai_api_key", "OPENAI_API_KEY")
	mustBind("provider.gemini_api_key", "GEMINI_API_KEY")
	mustBind("provider.name", "VERIDOC_PROVIDER")

	mustBind("postgres.host", "VERIDOC_POSTGRES_HOST")
	mustBind("postgres.port", "VERIDOC_POSTGRES_PORT")
	mustBind("postgres.user", "VERIDOC_POSTGRES_USER")
	mustBind("postgres.password", "VERIDOC_POSTGRES_PASSWORD")
	mustBind("postgres.db_name", "VERIDOC_POSTGRES_DB")

	mustBind("redis.addr", "VERIDOC_REDIS_ADDR")
	mustBind("redis.password", "VERIDOC_REDIS_PASSWORD")

	mustBind("server.host", "VERIDOC_HOST")
	mustBind("server.port", "VERIDOC_PORT")
	mustBind("server.trust_proxy", "VERIDOC_TRUST_PROXY")

	mustBind("session.store", "VERIDOC_SESSION_STORE")
	mustBind("log.level", "VERIDOC_LOG_LEVEL")
	mustBind("log.json", "VERIDOC_LOG_JSON")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) cannot collide with secret substrings the way
// "****" or "[REDACTED]" can.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked to prevent substring
// matching; longer secrets keep the first and last 2 characters for debug
// utility. This defends against accidental logging, nothing more. If logs are
// compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
