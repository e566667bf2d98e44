package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/auth"
	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/services"
)

// EvaluateTableRequest for POST /api/qc
type EvaluateTableRequest struct {
	Table *models.Table `json:"table"`
	Rules []string      `json:"rules,omitempty"`
}

// QCHandler runs the data-integrity rule engine.
type QCHandler struct {
	qcService services.QCService
	logger    *zap.Logger
}

// NewQCHandler creates a new QC handler.
func NewQCHandler(qcService services.QCService, logger *zap.Logger) *QCHandler {
	return &QCHandler{
		qcService: qcService,
		logger:    logger,
	}
}

// RegisterRoutes registers the QC handler's routes on the given mux.
func (h *QCHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/qc/{dataset}", authMiddleware.RequireUser(h.EvaluateDataset))
	mux.HandleFunc("POST /api/qc", authMiddleware.RequireUser(h.EvaluateTable))
}

// EvaluateDataset handles GET /api/qc/{dataset}?rule=check_nulls,check_spec_limits
// No rule parameter runs every rule.
func (h *QCHandler) EvaluateDataset(w http.ResponseWriter, r *http.Request) {
	dataset, ok := pathValue(w, r, "dataset", h.logger)
	if !ok {
		return
	}
	rules, err := parseRules(queryList(r, "rule"))
	if err != nil {
		writeServiceError(w, h.logger, "qc evaluation", err)
		return
	}

	report, err := h.qcService.EvaluateQC(r.Context(), dataset, rules)
	if err != nil {
		writeServiceError(w, h.logger, "qc evaluation", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, report)
}

// EvaluateTable handles POST /api/qc with an uploaded table.
func (h *QCHandler) EvaluateTable(w http.ResponseWriter, r *http.Request) {
	var req EvaluateTableRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	if req.Table == nil {
		writeError(w, h.logger, http.StatusBadRequest, "missing_table", "table is required")
		return
	}
	rules, err := parseRules(req.Rules)
	if err != nil {
		writeServiceError(w, h.logger, "qc evaluation", err)
		return
	}

	report, err := h.qcService.Evaluate(r.Context(), req.Table, rules)
	if err != nil {
		writeServiceError(w, h.logger, "qc evaluation", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, report)
}
