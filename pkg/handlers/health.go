package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/config"
	"github.com/veritas-qms/veritas-engine/pkg/services"
)

// HealthResponse is the response body of /health.
type HealthResponse struct {
	Status string `json:"status"`
	Ledger string `json:"ledger"`
	// Entries is the number of ledger entries checked.
	Entries int    `json:"entries"`
	Error   string `json:"error,omitempty"`
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg    *config.Config
	ledger services.AuditService
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. A nil ledger skips the
// integrity check.
func NewHealthHandler(cfg *config.Config, ledger services.AuditService, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, ledger: ledger, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/ping", h.Ping)
}

// Health handles GET /health requests.
// Reports 503 when the audit ledger fails its integrity check.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Ledger: "unchecked"}
	status := http.StatusOK

	if h.ledger != nil {
		if err := h.ledger.Verify(r.Context()); err != nil {
			h.logger.Error("Audit ledger failed integrity check", zap.Error(err))
			resp.Status = "degraded"
			resp.Ledger = "tampered"
			resp.Error = "audit ledger failed integrity check"
			status = http.StatusServiceUnavailable
		} else {
			resp.Ledger = "intact"
			if n, err := h.ledger.Len(r.Context()); err == nil {
				resp.Entries = n
			}
		}
	}

	if err := WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "veritas-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
