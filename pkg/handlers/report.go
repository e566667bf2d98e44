package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/adapters/datasource"
	"github.com/veritas-qms/veritas-engine/pkg/auth"
	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/services"
)

// ============================================================================
// Request/Response Types
// ============================================================================

// CreateDraftRequest for POST /api/reports/drafts
type CreateDraftRequest struct {
	StudyID string              `json:"study_id"`
	Format  models.ReportFormat `json:"format"`
	Dataset string              `json:"dataset"`
	CQA     string              `json:"cqa"`
	// Limit overrides the configured specification of the CQA.
	Limit      *models.SpecLimit `json:"limit,omitempty"`
	Commentary string            `json:"commentary,omitempty"`
	Sections   []string          `json:"sections,omitempty"`
}

// SignReportRequest for POST /api/reports/drafts/{id}/sign
// Secret is the signer's password or a re-authentication token.
type SignReportRequest struct {
	Reason models.SigningReason `json:"reason"`
	Secret string               `json:"secret"`
}

// PendingDraftResponse for GET /api/reports/drafts/{id}
type PendingDraftResponse struct {
	RequestID  string              `json:"request_id"`
	StudyID    string              `json:"study_id"`
	Format     models.ReportFormat `json:"format"`
	CQA        string              `json:"cqa"`
	Limit      models.SpecLimit    `json:"limit"`
	Commentary string              `json:"commentary"`
	Sections   []string            `json:"sections"`
	Cpk        Float               `json:"cpk"`
	Summary    summaryResponse     `json:"summary"`
	Rows       int                 `json:"rows"`
	CreatedBy  string              `json:"created_by"`
	CreatedAt  time.Time           `json:"created_at"`
}

// ============================================================================
// Handler
// ============================================================================

// ReportHandler drafts reports and applies electronic signatures.
type ReportHandler struct {
	reportService services.ReportService
	provider      datasource.TableProvider
	specLimits    models.SpecLimits
	logger        *zap.Logger
}

// NewReportHandler creates a new report handler. specLimits supplies the
// limit of a CQA when the request does not carry one.
func NewReportHandler(
	reportService services.ReportService,
	provider datasource.TableProvider,
	specLimits models.SpecLimits,
	logger *zap.Logger,
) *ReportHandler {
	return &ReportHandler{
		reportService: reportService,
		provider:      provider,
		specLimits:    specLimits,
		logger:        logger,
	}
}

// RegisterRoutes registers the report handler's routes on the given mux.
func (h *ReportHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/api/reports/drafts"

	mux.HandleFunc("POST "+base, authMiddleware.RequireUser(h.CreateDraft))
	mux.HandleFunc("GET "+base+"/{id}", authMiddleware.RequireUser(h.GetPending))
	mux.HandleFunc("POST "+base+"/{id}/sign", authMiddleware.RequireUser(h.Sign))
}

// CreateDraft handles POST /api/reports/drafts
// ?download=true returns the rendered file instead of the JSON artifact.
func (h *ReportHandler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	var req CreateDraftRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}
	if req.Dataset == "" {
		writeError(w, h.logger, http.StatusBadRequest, "missing_dataset", "dataset is required")
		return
	}

	limit := req.Limit
	if limit == nil {
		configured, found := h.specLimits.Lookup(req.CQA)
		if !found {
			writeError(w, h.logger, http.StatusBadRequest, "missing_limit",
				"No specification configured for CQA "+strconv.Quote(req.CQA)+"; supply limit")
			return
		}
		limit = &configured
	}

	table, err := h.provider.Get(r.Context(), req.Dataset)
	if err != nil {
		writeServiceError(w, h.logger, "draft report", err)
		return
	}

	artifact, err := h.reportService.GenerateDraft(r.Context(), services.DraftRequest{
		StudyID:    req.StudyID,
		Format:     req.Format,
		CQA:        req.CQA,
		Limit:      *limit,
		Data:       table,
		Commentary: req.Commentary,
		Sections:   req.Sections,
		User:       user,
	})
	if err != nil {
		writeServiceError(w, h.logger, "draft report", err)
		return
	}
	h.writeArtifact(w, r, http.StatusCreated, artifact)
}

// GetPending handles GET /api/reports/drafts/{id}
func (h *ReportHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	id, ok := pathValue(w, r, "id", h.logger)
	if !ok {
		return
	}
	draft, err := h.reportService.Pending(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "pending draft", err)
		return
	}
	rows := 0
	if draft.Data != nil {
		rows = len(draft.Data.Rows)
	}
	writeOK(w, h.logger, http.StatusOK, PendingDraftResponse{
		RequestID:  draft.RequestID,
		StudyID:    draft.StudyID,
		Format:     draft.Format,
		CQA:        draft.CQA,
		Limit:      draft.Limit,
		Commentary: draft.Commentary,
		Sections:   draft.Sections,
		Cpk:        Float(draft.Cpk),
		Summary:    newSummaryResponse(draft.Summary),
		Rows:       rows,
		CreatedBy:  draft.CreatedBy,
		CreatedAt:  draft.CreatedAt,
	})
}

// Sign handles POST /api/reports/drafts/{id}/sign
// The acting user re-authenticates with Secret; a draft is signed at most once.
func (h *ReportHandler) Sign(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := pathValue(w, r, "id", h.logger)
	if !ok {
		return
	}
	var req SignReportRequest
	if !decodeJSON(w, r, h.logger, &req) {
		return
	}

	artifact, err := h.reportService.SignAndLock(r.Context(), id, req.Reason, user, req.Secret)
	if err != nil {
		writeServiceError(w, h.logger, "sign report", err)
		return
	}
	h.writeArtifact(w, r, http.StatusOK, artifact)
}

func (h *ReportHandler) writeArtifact(w http.ResponseWriter, r *http.Request, status int, a *models.ReportArtifact) {
	if download, _ := strconv.ParseBool(r.URL.Query().Get("download")); !download {
		writeOK(w, h.logger, status, a)
		return
	}
	w.Header().Set("Content-Type", a.MIMEType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+a.Filename+`"`)
	w.Header().Set("X-Report-Request-ID", a.RequestID)
	w.WriteHeader(status)
	if _, err := w.Write(a.Payload); err != nil {
		h.logger.Error("Failed to write report artifact", zap.Error(err))
	}
}
