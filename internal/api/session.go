package api

import (
	"errors"
	"net/http"

	"github.com/veridoc/veridoc/internal/log"
	"github.com/veridoc/veridoc/internal/session"
)

// SessionHandler serves conversation history endpoints.
type SessionHandler struct {
	store  session.Store
	logger log.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(store session.Store, logger log.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

// RegisterRoutes registers the conversation endpoints.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/chat/sessions", h.handleList)
	mux.HandleFunc("GET /api/chat/history/{id}", h.handleGet)
	mux.HandleFunc("DELETE /api/chat/history/{id}", h.handleDelete)
}

func (h *SessionHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "session store not configured", h.logger)
		return
	}

	sessions, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("listing sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "listing sessions failed", h.logger)
		return
	}

	stats := make([]session.Stats, 0, len(sessions))
	for _, s := range sessions {
		stats = append(stats, s.Stats())
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": stats, "count": len(stats)}, h.logger)
}

func (h *SessionHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "session store not configured", h.logger)
		return
	}

	id := r.PathValue("id")
	sess, err := h.store.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "session not found", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("loading session failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "loading session failed", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, sess, h.logger)
}

func (h *SessionHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "session store not configured", h.logger)
		return
	}

	id := r.PathValue("id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.logger.Error("deleting session failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "deleting session failed", h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
