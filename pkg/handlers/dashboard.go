package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/auth"
	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/services"
)

// DashboardHandler serves the KPI strip and role briefings.
type DashboardHandler struct {
	kpiService     services.KPIService
	defaultDataset string
	logger         *zap.Logger
}

// NewDashboardHandler creates a new dashboard handler. defaultDataset is
// used when a KPI request names none.
func NewDashboardHandler(kpiService services.KPIService, defaultDataset string, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		kpiService:     kpiService,
		defaultDataset: defaultDataset,
		logger:         logger,
	}
}

// RegisterRoutes registers the dashboard handler's routes on the given mux.
func (h *DashboardHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/kpis", authMiddleware.RequireUser(h.KPIs))
	mux.HandleFunc("GET /api/action-items", authMiddleware.RequireUser(h.ActionItems))
}

// KPIs handles GET /api/kpis?dataset=
func (h *DashboardHandler) KPIs(w http.ResponseWriter, r *http.Request) {
	dataset := r.URL.Query().Get("dataset")
	if dataset == "" {
		dataset = h.defaultDataset
	}
	if dataset == "" {
		writeError(w, h.logger, http.StatusBadRequest, "missing_dataset", "Query parameter dataset is required")
		return
	}
	kpis, err := h.kpiService.KPIs(r.Context(), dataset)
	if err != nil {
		writeServiceError(w, h.logger, "kpis", err)
		return
	}
	writeOK(w, h.logger, http.StatusOK, kpis)
}

// ActionItems handles GET /api/action-items?role=
func (h *DashboardHandler) ActionItems(w http.ResponseWriter, r *http.Request) {
	role, ok := requiredQuery(w, r, "role", h.logger)
	if !ok {
		return
	}
	items, err := h.kpiService.ActionItems(r.Context(), role)
	if err != nil {
		writeServiceError(w, h.logger, "action items", err)
		return
	}
	if items == nil {
		items = []models.ActionItem{}
	}
	writeOK(w, h.logger, http.StatusOK, items)
}
