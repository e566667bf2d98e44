package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/auth"
	"github.com/veritas-qms/veritas-engine/pkg/services"
)

// LineageHandler serves the causal history of a record.
type LineageHandler struct {
	lineageService services.LineageService
	logger         *zap.Logger
}

// NewLineageHandler creates a new lineage handler.
func NewLineageHandler(lineageService services.LineageService, logger *zap.Logger) *LineageHandler {
	return &LineageHandler{
		lineageService: lineageService,
		logger:         logger,
	}
}

// RegisterRoutes registers the lineage handler's routes on the given mux.
func (h *LineageHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/lineage/{recordId}", authMiddleware.RequireUser(h.Trace))
}

// Trace handles GET /api/lineage/{recordId}
// ?format=dot returns the chain as a Graphviz digraph instead of JSON.
func (h *LineageHandler) Trace(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathValue(w, r, "recordId", h.logger)
	if !ok {
		return
	}

	chain, err := h.lineageService.Trace(r.Context(), recordID)
	if err != nil {
		writeServiceError(w, h.logger, "lineage trace", err)
		return
	}

	if r.URL.Query().Get("format") == "dot" {
		w.Header().Set("Content-Type", "text/vnd.graphviz")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(chain.DOT())); err != nil {
			h.logger.Error("Failed to write lineage graph", zap.Error(err))
		}
		return
	}
	writeOK(w, h.logger, http.StatusOK, chain)
}
