package api

import (
	"context"
	"net/http"
	"time"

	"github.com/veridoc/veridoc/internal/log"
	"github.com/veridoc/veridoc/internal/session"
	"github.com/veridoc/veridoc/internal/vectorstore"
)

// readinessTimeout bounds the backing store pings.
const readinessTimeout = 5 * time.Second

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	chunks   vectorstore.Store
	sessions session.Store
	logger   log.Logger
}

// NewHealthHandler creates a health handler. Either store may be nil; nil
// stores are skipped by the readiness probe.
func NewHealthHandler(chunks vectorstore.Store, sessions session.Store, logger log.Logger) *HealthHandler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &HealthHandler{chunks: chunks, sessions: sessions, logger: logger}
}

// RegisterRoutes registers the probe endpoints.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /ready", h.handleReady)
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, h.logger)
}

func (h *HealthHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := map[string]string{}
	ready := true

	if h.chunks != nil {
		checks["vectorstore"] = "ok"
		if err := h.chunks.Ping(ctx); err != nil {
			checks["vectorstore"] = err.Error()
			ready = false
		}
	}
	if h.sessions != nil {
		checks["sessions"] = "ok"
		if err := h.sessions.Ping(ctx); err != nil {
			checks["sessions"] = err.Error()
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "checks": checks}, h.logger)
}
