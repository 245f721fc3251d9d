// Package api exposes the query pipeline over HTTP.
//
// Endpoints:
//
//	POST   /api/query                  run one question-answering turn
//	POST   /api/ingest                 index an extracted document
//	GET    /api/chat/sessions          list conversation summaries
//	GET    /api/chat/history/{id}      fetch one conversation
//	DELETE /api/chat/history/{id}      delete one conversation
//	GET    /health                     liveness probe
//	GET    /ready                      readiness probe (backing stores)
//
// File structure:
//   - server.go: server setup and lifecycle
//   - middleware.go: logging, recovery, rate limiting chain
//   - ratelimit.go: per-IP token bucket
//   - query.go: query and ingest endpoints
//   - session.go: conversation endpoints
//   - health.go: probes
//   - response.go: JSON helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/veridoc/veridoc/internal/ingest"
	"github.com/veridoc/veridoc/internal/log"
	"github.com/veridoc/veridoc/internal/query"
	"github.com/veridoc/veridoc/internal/session"
	"github.com/veridoc/veridoc/internal/vectorstore"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is generous because generation can take tens of seconds.
	WriteTimeout = 120 * time.Second

	// IdleTimeout bounds keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Config controls the HTTP surface.
type Config struct {
	Addr       string
	RPS        float64 // per-IP sustained requests per second
	Burst      int     // per-IP burst allowance
	TrustProxy bool    // honor X-Real-IP / X-Forwarded-For
}

// Params wires a Server.
type Params struct {
	Orchestrator *query.Orchestrator
	Indexer      *ingest.Indexer
	Sessions     session.Store
	Chunks       vectorstore.Store
	Logger       log.Logger
}

// Server is the HTTP server for the question-answering API.
type Server struct {
	mux    *http.ServeMux
	cfg    Config
	logger log.Logger

	limiter *rateLimiter

	health  *HealthHandler
	query   *QueryHandler
	session *SessionHandler
}

// NewServer creates a server with all routes registered.
func NewServer(cfg Config, p Params) *Server {
	if p.Logger == nil {
		p.Logger = log.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:     mux,
		cfg:     cfg,
		logger:  p.Logger,
		health:  NewHealthHandler(p.Chunks, p.Sessions, p.Logger),
		query:   NewQueryHandler(p.Orchestrator, p.Indexer, p.Logger),
		session: NewSessionHandler(p.Sessions, p.Logger),
	}
	if cfg.RPS > 0 {
		s.limiter = newRateLimiter(cfg.RPS, cfg.Burst)
	}

	s.health.RegisterRoutes(mux)
	s.query.RegisterRoutes(mux)
	s.session.RegisterRoutes(mux)

	return s
}

// Handler returns the mux with middleware applied.
// Order: recovery, rate limit, logging, handler.
func (s *Server) Handler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		recoveryMiddleware(s.logger),
	}
	if s.limiter != nil {
		middlewares = append(middlewares, rateLimitMiddleware(s.limiter, s.cfg.TrustProxy, s.logger))
	}
	middlewares = append(middlewares, loggingMiddleware(s.logger))
	return chain(s.mux, middlewares...)
}

// Run starts the server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
