package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/veridoc/veridoc/internal/ingest"
	"github.com/veridoc/veridoc/internal/log"
	"github.com/veridoc/veridoc/internal/query"
)

// maxRequestBody caps request bodies. Ingest payloads carry whole documents,
// so the limit is generous.
const maxRequestBody = 32 << 20 // 32 MiB

// QueryHandler serves the query and ingest endpoints.
type QueryHandler struct {
	orch    *query.Orchestrator
	indexer *ingest.Indexer
	logger  log.Logger
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(orch *query.Orchestrator, indexer *ingest.Indexer, logger log.Logger) *QueryHandler {
	return &QueryHandler{orch: orch, indexer: indexer, logger: logger}
}

// RegisterRoutes registers the query endpoints.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.handleQuery)
	mux.HandleFunc("POST /api/ingest", h.handleIngest)
}

func (h *QueryHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}

	resp, err := h.orch.Answer(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, query.ErrEmptyQuery):
			writeError(w, http.StatusBadRequest, "invalid_request", "query must not be empty", h.logger)
		case errors.Is(err, query.ErrNotReady):
			writeError(w, http.StatusServiceUnavailable, "not_ready", err.Error(), h.logger)
		default:
			h.logger.Error("query failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "query failed", h.logger)
		}
		return
	}

	writeJSON(w, http.StatusOK, resp, h.logger)
}

func (h *QueryHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	if h.indexer == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "ingestion not configured", h.logger)
		return
	}

	var doc ingest.Document
	if err := decodeBody(w, r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}
	force := r.URL.Query().Get("force") == "true"

	summary, err := h.indexer.Index(r.Context(), doc, force)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrEmptyDocument):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		case errors.Is(err, ingest.ErrNoContent):
			writeError(w, http.StatusUnprocessableEntity, "no_content", err.Error(), h.logger)
		default:
			h.logger.Error("ingest failed", "document", doc.Name, "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "ingest failed", h.logger)
		}
		return
	}

	writeJSON(w, http.StatusOK, summary, h.logger)
}

// decodeBody decodes a JSON request body, rejecting unknown fields and
// oversized payloads.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
