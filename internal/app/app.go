// Package app wires configuration, providers, stores, and the HTTP server
// into a running service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veridoc/veridoc/internal/api"
	"github.com/veridoc/veridoc/internal/chunk"
	"github.com/veridoc/veridoc/internal/config"
	"github.com/veridoc/veridoc/internal/database"
	"github.com/veridoc/veridoc/internal/generation"
	"github.com/veridoc/veridoc/internal/ingest"
	"github.com/veridoc/veridoc/internal/log"
	"github.com/veridoc/veridoc/internal/moderation"
	"github.com/veridoc/veridoc/internal/provider"
	"github.com/veridoc/veridoc/internal/provider/gemini"
	"github.com/veridoc/veridoc/internal/provider/openai"
	"github.com/veridoc/veridoc/internal/query"
	"github.com/veridoc/veridoc/internal/retrieval"
	"github.com/veridoc/veridoc/internal/session"
	"github.com/veridoc/veridoc/internal/vectorstore"
	"github.com/veridoc/veridoc/internal/vectorstore/pgvector"
	"github.com/veridoc/veridoc/internal/verification"
)

// Run loads configuration, assembles the pipeline, and serves HTTP until
// SIGINT or SIGTERM.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := log.New(log.Config{
		Level:     parseLevel(cfg.Log.Level),
		JSON:      cfg.Log.JSON,
		AddSource: cfg.Log.AddSource,
	})
	logger.Info("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Vector store.
	dsn := cfg.Postgres.DSN()
	if err := database.Migrate(dsn); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	pool, err := database.NewPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer pool.Close()

	chunks, err := pgvector.NewStore(pool, logger.With("component", "vectorstore"))
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}

	// Session store.
	sessions, locker, cleanup, err := buildSessionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// AI provider.
	embedder, genBackend, moderator, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	orch, indexer, err := buildPipeline(cfg, chunks, sessions, locker, embedder, genBackend, moderator, logger)
	if err != nil {
		return err
	}

	srv := api.NewServer(api.Config{
		Addr:       fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		RPS:        cfg.Server.RateLimitRPS,
		Burst:      cfg.Server.RateLimitBurst,
		TrustProxy: cfg.Server.TrustProxy,
	}, api.Params{
		Orchestrator: orch,
		Indexer:      indexer,
		Sessions:     sessions,
		Chunks:       chunks,
		Logger:       logger.With("component", "api"),
	})

	return srv.Run(ctx)
}

// buildSessionStore creates the configured session backend. The returned
// cleanup closes the Redis client when one was opened.
func buildSessionStore(ctx context.Context, cfg *config.Config, logger log.Logger) (session.Store, session.Locker, func(), error) {
	if cfg.Session.Store == config.SessionStoreMemory {
		logger.Info("using in-memory session store")
		return session.NewMemoryStore(), session.NewMemoryLock(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	ttl := time.Duration(cfg.Session.TTLHours) * time.Hour
	store := session.NewRedisStore(client, ttl, logger.With("component", "sessions"))
	return store, session.NewRedisLock(client), func() { _ = client.Close() }, nil
}

// buildProvider creates the embedding, generation, and moderation backends
// for the configured provider. The moderator is nil for providers without a
// moderation endpoint.
func buildProvider(cfg *config.Config) (provider.Embedder, provider.Generator, provider.Moderator, error) {
	switch cfg.Provider.Name {
	case config.ProviderOpenAI:
		client, err := openai.NewClient(openai.Config{
			APIKey:         cfg.Provider.OpenAIAPIKey,
			BaseURL:        cfg.Provider.OpenAIBaseURL,
			EmbeddingModel: cfg.Embedding.Model,
			ChatModel:      cfg.Generation.Model,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating OpenAI client: %w", err)
		}
		return client, client, client, nil

	case config.ProviderGemini:
		client, err := gemini.NewClient(gemini.Config{
			APIKey:         cfg.Provider.GeminiAPIKey,
			EmbeddingModel: cfg.Embedding.Model,
			ChatModel:      cfg.Generation.Model,
			Dimensions:     cfg.Embedding.Dimensions,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating Gemini client: %w", err)
		}
		return client, client, nil, nil

	default:
		return nil, nil, nil, fmt.Errorf("%w: %s", config.ErrInvalidProvider, cfg.Provider.Name)
	}
}

// buildPipeline assembles the query orchestrator and the document indexer.
func buildPipeline(
	cfg *config.Config,
	chunks vectorstore.Store,
	sessions session.Store,
	locker session.Locker,
	embedder provider.Embedder,
	genBackend provider.Generator,
	moderator provider.Moderator,
	logger log.Logger,
) (*query.Orchestrator, *ingest.Indexer, error) {
	gate := moderation.NewGate(moderator, moderation.Config{
		Enabled:  cfg.Moderation.Enabled,
		FailOpen: cfg.Moderation.FailOpen,
	}, logger.With("component", "moderation"))

	retriever := retrieval.NewRetriever(embedder, chunks, retrieval.Config{
		TopK:                cfg.Retrieval.TopK,
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
	}, logger.With("component", "retrieval"))

	var scorer retrieval.PairScorer
	if cfg.Rerank.Enabled {
		scorer = retrieval.NewEmbeddingScorer(embedder)
	}
	reranker := retrieval.NewReranker(scorer, cfg.Rerank.TopK, logger.With("component", "rerank"))

	generator := generation.NewGenerator(genBackend, generation.Config{
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
	}, logger.With("component", "generation"))

	var verifier *verification.Verifier
	if cfg.Verification.Enabled {
		verifier = verification.NewVerifier(cfg.Verification.ConfidenceThreshold,
			logger.With("component", "verification"))
	}

	orch, err := query.New(query.Params{
		Gate:      gate,
		Retriever: retriever,
		Reranker:  reranker,
		Generator: generator,
		Verifier:  verifier,
		Store:     sessions,
		Locker:    locker,
		SessionCfg: session.Config{
			MaxMessages: cfg.Session.MaxMessages,
			MaxTokens:   cfg.Session.MaxTokens,
		},
		Logger: logger.With("component", "query"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("assembling query pipeline: %w", err)
	}

	chunker := chunk.NewChunker(chunk.Config{
		Size:     cfg.Chunking.Size,
		Overlap:  cfg.Chunking.Overlap,
		MinChars: cfg.Chunking.MinChars,
	}, logger.With("component", "chunk"))
	indexer := ingest.NewIndexer(chunker, embedder, chunks, 0, logger.With("component", "ingest"))

	return orch, indexer, nil
}

// parseLevel maps a config level string onto slog. Unknown values fall back
// to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
