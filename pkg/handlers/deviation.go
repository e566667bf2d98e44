package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/auth"
	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// CreateDeviationRequest for POST /api/deviations
type CreateDeviationRequest struct {
	Title        string                   `json:"title"`
	Priority     models.DeviationPriority `json:"priority"`
	LinkedRecord string                   `json:"linked_record"`
}

// RaiseFromQCRequest for POST /api/deviations/from-qc
type RaiseFromQCRequest struct {
	Dataset string   `json:"dataset"`
	Rules   []string `json:"rules,omitempty"`
	// SourceRecord defaults to the dataset name.
	SourceRecord string `json:"source_record,omitempty"`
}

// RaiseFromQCResponse carries the QC report and the deviation raised for
// it. Deviation is nil when the dataset passed every rule.
type RaiseFromQCResponse struct {
	Report    *services.QCReport `json:"report"`
	Deviation *models.Deviation  `json:"deviation,omitempty"`
}

// AdvanceDeviationRequest for POST /api/deviations/{id}/advance
// ExpectedStatus is the state the caller last saw; a stale value is rejected.
type AdvanceDeviationRequest struct {
	ExpectedStatus models.DeviationStatus `json:"expected_status"`
}

// UpdateInvestigationRequest for PUT /api/deviations/{id}/investigation
type UpdateInvestigationRequest struct {
	RCA  *models.RCA  `json:"rca,omitempty"`
	CAPA *models.CAPA `json:"capa,omitempty"`
}

// DeviationListResponse for GET /api/deviations
type DeviationListResponse struct {
	Deviations []*models.Deviation `json:"deviations"`
	Total      int                 `json:"total"`
}

// ============================================================================
// Handler
// ============================================================================

// DeviationHandler serves the deviation hub.
type DeviationHandler struct {
	deviationService services.DeviationService
	qcService        services.QCService
	logger           *zap.Logger
}

// NewDeviationHandler creates a new deviation handler.
func NewDeviationHandler(
	deviationService services.DeviationService,
	qcService services.QCService,
	logger *zap.Logger,
) *DeviationHandler {
	return &DeviationHandler{
		deviationService: deviationService,
		qcService:        qcService,
		logger:           logger,
	}
}

// RegisterRoutes registers the deviation handler's routes on the given mux.
func (h *DeviationHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/api/deviations"

	mux.HandleFunc("GET "+base, authMiddleware.RequireUser(h.List))
	mux.HandleFunc("POST "+base, authMiddleware.RequireUser(h.Create))
	mux.HandleFunc("GET "+base+"/workflow", authMiddleware.RequireUser(h.Workflow))
	mux.HandleFunc("POST "+base+"/from-qc", authMiddleware.RequireUser(h.RaiseFromQC))
	mux.HandleFunc("GET "+base+"/{id}", authMiddleware.RequireUser(h.Get))
	mux.HandleFunc("POST "+base+"/{id}/advance", authMiddleware.RequireUser(h.Advance))
	mux.HandleFunc("PUT "+base+"/{id}/investigation", authMiddleware.RequireUser(h.UpdateInvestigation))
}

// List handles GET /api/deviations?status=Open,Under Review
func (h *DeviationHandler) List(w http.ResponseWriter, r *http.Request) {
	var statuses []models.DeviationStatus
	for _, s := range queryList(r, "status") {
		statuses = append(statuses, models.DeviationStatus(s))
	}
	devs, err := h.deviationService.List(r.Context(), statuses...)
	if err != nil {
		writeServiceError(w, h.logger, "list deviations", err)
		return
	}
	if devs == nil {
		devs = []*models.Deviation{}
	}
	writeOK(w, h.logger, http.StatusOK, DeviationListResponse{Deviations: devs, Total: len(devs)})
}

// Workflow handles GET /api/deviations/workflow
func (h *DeviationHandler) Workflow(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.logger, http.StatusOK, h.deviationService.Workflow())
}

// Get handles GET /api/deviations/{id}
func (h *DeviationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathValue(w, r, "id", h.logger)
	if !ok {
		return
	}
	dev, err := h.deviationService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "get deviation", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, dev)
}

// Create handles POST /api/deviations
func (h *DeviationHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	var req CreateDeviationRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}

	dev, err := h.deviationService.Create(r.Context(), services.NewDeviation{
		Title:        req.Title,
		Priority:     req.Priority,
		LinkedRecord: req.LinkedRecord,
	}, user)
	if err != nil {
		writeServiceError(w, h.logger, "create deviation", err)
		return
	}
	writeOK(w, h.logger, http.StatusCreated, dev)
}

// RaiseFromQC handles POST /api/deviations/from-qc
// Runs QC over the dataset and raises one deviation covering every finding.
func (h *DeviationHandler) RaiseFromQC(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	var req RaiseFromQCRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	if req.Dataset == "" {
		writeError(w, h.logger, http.StatusBadRequest, "missing_dataset", "dataset is required")
		return
	}
	rules, err := parseRules(req.Rules)
	if err != nil {
		writeServiceError(w, h.logger, "raise deviation from qc", err)
		return
	}

	report, err := h.qcService.EvaluateQC(r.Context(), req.Dataset, rules)
	if err != nil {
		writeServiceError(w, h.logger, "raise deviation from qc", err)
		return
	}
	if len(report.Discrepancies) == 0 {
		writeOK(w, h.logger, http.StatusOK, RaiseFromQCResponse{Report: report})
		return
	}

	source := req.SourceRecord
	if source == "" {
		source = req.Dataset
	}
	dev, err := h.deviationService.CreateFromDiscrepancies(r.Context(), report.Discrepancies, source, user)
	if err != nil {
		writeServiceError(w, h.logger, "raise deviation from qc", err)
		return
	}
	writeOK(w, h.logger, http.StatusCreated, RaiseFromQCResponse{Report: report, Deviation: dev})
}

// Advance handles POST /api/deviations/{id}/advance
func (h *DeviationHandler) Advance(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := pathValue(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req AdvanceDeviationRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	if req.ExpectedStatus == "" {
		writeError(w, h.logger, http.StatusBadRequest, "missing_expected_status", "expected_status is required")
		return
	}

	dev, err := h.deviationService.Advance(r.Context(), id, req.ExpectedStatus, user)
	if err != nil {
		writeServiceError(w, h.logger, "advance deviation", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, dev)
}

// UpdateInvestigation handles PUT /api/deviations/{id}/investigation
func (h *DeviationHandler) UpdateInvestigation(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := pathValue(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req UpdateInvestigationRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}

	dev, err := h.deviationService.UpdateInvestigation(r.Context(), id, services.Investigation{RCA: req.RCA, CAPA: req.CAPA}, user)
	if err != nil {
		writeServiceError(w, h.logger, "update investigation", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, dev)
}
