package handlers

import (
	"bytes"
	"net/http"

	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/auth"
	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/services"
)

// AuditExportFilename is the attachment name of the CSV export.
const AuditExportFilename = "audit_trail.csv"

// AuditListResponse for GET /api/audit and /api/audit/signatures
type AuditListResponse struct {
	Entries []*models.AuditEntry `json:"entries"`
	Total   int                  `json:"total"`
}

// AuditVerifyResponse for GET /api/audit/verify
type AuditVerifyResponse struct {
	Intact  bool `json:"intact"`
	Entries int  `json:"entries"`
}

// AuditHandler exposes the audit ledger read side. Entries are only ever
// written by the services performing regulated actions.
type AuditHandler struct {
	auditService services.AuditService
	logger       *zap.Logger
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(auditService services.AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		auditService: auditService,
		logger:       logger,
	}
}

// RegisterRoutes registers the audit handler's routes on the given mux.
func (h *AuditHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/audit", authMiddleware.RequireUser(h.List))
	mux.HandleFunc("GET /api/audit/signatures", authMiddleware.RequireUser(h.Signatures))
	mux.HandleFunc("GET /api/audit/export", authMiddleware.RequireUser(h.Export))
	mux.HandleFunc("GET /api/audit/verify", authMiddleware.RequireUser(h.Verify))
}

// auditFilter reads ?user=, ?action= and ?record= from the query string.
func auditFilter(r *http.Request) models.AuditFilter {
	return models.AuditFilter{
		Users:            queryList(r, "user"),
		Actions:          queryList(r, "action"),
		RecordIDContains: r.URL.Query().Get("record"),
	}
}

// List handles GET /api/audit
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.auditService.Query(r.Context(), auditFilter(r))
	if err != nil {
		writeServiceError(w, h.logger, "audit query", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, AuditListResponse{Entries: entries, Total: len(entries)})
}

// Signatures handles GET /api/audit/signatures
func (h *AuditHandler) Signatures(w http.ResponseWriter, r *http.Request) {
	entries, err := h.auditService.Signatures(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "signature history", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, AuditListResponse{Entries: entries, Total: len(entries)})
}

// Export handles GET /api/audit/export
// The CSV is buffered so a failure mid-export still yields a JSON error.
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.auditService.ExportCSV(r.Context(), &buf, auditFilter(r)); err != nil {
		writeServiceError(w, h.logger, "audit export", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+AuditExportFilename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Error("Failed to write audit export", zap.Error(err))
	}
}

// Verify handles GET /api/audit/verify
func (h *AuditHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if err := h.auditService.Verify(r.Context()); err != nil {
		writeServiceError(w, h.logger, "ledger verification", err)
		return
	}
	n, err := h.auditService.Len(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "ledger verification", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, AuditVerifyResponse{Intact: true, Entries: n})
}
