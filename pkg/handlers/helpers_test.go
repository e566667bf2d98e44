package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/veritas-qms/veritas-engine/pkg/adapters/datasource"
	"github.com/veritas-qms/veritas-engine/pkg/audit"
	"github.com/veritas-qms/veritas-engine/pkg/auth"
	"github.com/veritas-qms/veritas-engine/pkg/config"
	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/render"
	"github.com/veritas-qms/veritas-engine/pkg/repositories"
	"github.com/veritas-qms/veritas-engine/pkg/services"
)

const (
	testUser     = "qa.lead"
	testPassword = "correct horse"
	testSecret   = "handler-test-signing-secret"
)

// testAPI is the full route table over in-memory repositories.
type testAPI struct {
	mux        *http.ServeMux
	ledger     services.AuditService
	deviations services.DeviationService
	tokens     *auth.TokenVerifier
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := zap.NewNop()
	cfg := config.DefaultAnalytics()
	cfg.AnomalyContamination = 0.17

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	passwords := auth.NewPasswordVerifier(map[string]string{testUser: string(hash)}, logger)
	tokens, err := auth.NewTokenVerifier(testSecret, logger)
	require.NoError(t, err)

	provider := datasource.NewStaticProvider(hplcTable(), groupsTable(), pairsTable(), stabilityTable())
	security := audit.NewSecurityAuditor(logger)
	auditRepo := repositories.NewAuditRepository(time.Now)
	ledger := services.NewAuditService(auditRepo, security, logger)
	qcSvc := services.NewQCService(provider, cfg, logger)
	analysis := services.NewAnalysisService(provider, cfg, logger)
	deviations := services.NewDeviationService(repositories.NewDeviationRepository(), ledger, security, cfg.DeviationStates, logger)
	reports := services.NewReportService(
		repositories.NewDraftRepository(),
		ledger,
		auth.ChainVerifier{passwords, tokens},
		render.NewHTMLRenderer(logger),
		security,
		"DRAFT",
		cfg.CpkTarget,
		logger,
	)
	kpis := services.NewKPIService(deviations, qcSvc, analysis, ledger, cfg.CpkTarget, logger)
	lineage := services.NewLineageService(auditRepo, logger)

	mux := http.NewServeMux()
	authMiddleware := auth.NewMiddleware(logger)
	NewHealthHandler(&config.Config{Version: "test", Env: "test"}, ledger, logger).RegisterRoutes(mux)
	NewAuditHandler(ledger, logger).RegisterRoutes(mux, authMiddleware)
	NewLineageHandler(lineage, logger).RegisterRoutes(mux, authMiddleware)
	NewQCHandler(qcSvc, logger).RegisterRoutes(mux, authMiddleware)
	NewAnalysisHandler(analysis, logger).RegisterRoutes(mux, authMiddleware)
	NewDeviationHandler(deviations, qcSvc, logger).RegisterRoutes(mux, authMiddleware)
	NewReportHandler(reports, provider, cfg.SpecLimits, logger).RegisterRoutes(mux, authMiddleware)
	NewAuthHandler(passwords, tokens, 5*time.Minute, security, logger).RegisterRoutes(mux, authMiddleware)
	NewDashboardHandler(kpis, "hplc", logger).RegisterRoutes(mux, authMiddleware)

	return &testAPI{mux: mux, ledger: ledger, deviations: deviations, tokens: tokens}
}

// do sends a request as testUser. A nil body sends no body; any other
// value is JSON encoded.
func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return a.doAs(t, testUser, method, path, body)
}

func (a *testAPI) doAs(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if user != "" {
		req.Header.Set(auth.UserHeader, user)
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

// decodeData unwraps an ApiResponse into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	require.True(t, env.Success, "body: %s", rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

// decodeError returns the error code of an error response.
func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return body["error"]
}

func hplcTable() *models.Table {
	return &models.Table{
		Name:    "hplc",
		Columns: []string{"sample_id", "batch_id", "purity", "main_impurity", "bio_activity"},
		Rows: []models.Row{
			{"sample_id": "S-001", "batch_id": "B1", "purity": 99.5, "main_impurity": 0.20, "bio_activity": 101.0},
			{"sample_id": "S-002", "batch_id": "B1", "purity": nil, "main_impurity": 0.22, "bio_activity": 99.0},
			{"sample_id": "S-003", "batch_id": "B2", "purity": 150.0, "main_impurity": 0.25, "bio_activity": 98.0},
			{"sample_id": "S-004", "batch_id": "B2", "purity": 100.1, "main_impurity": 0.21, "bio_activity": 102.0},
			{"sample_id": "S-005", "batch_id": "B3", "purity": 98.7, "main_impurity": 0.19, "bio_activity": 100.0},
		},
	}
}

// groupsTable has three instruments; HPLC-2 reads about ten units high.
func groupsTable() *models.Table {
	t := &models.Table{Name: "groups", Columns: []string{"value", "instrument"}}
	readings := map[string][]float64{
		"HPLC-1": {10, 11, 10.5, 10.2},
		"HPLC-2": {20, 21, 20.5, 20.8},
		"HPLC-3": {10.4, 10.9, 10.1, 10.6},
	}
	for _, g := range []string{"HPLC-1", "HPLC-2", "HPLC-3"} {
		for _, v := range readings[g] {
			t.Rows = append(t.Rows, models.Row{"value": v, "instrument": g})
		}
	}
	return t
}

// pairsTable has two clearly separated instruments.
func pairsTable() *models.Table {
	t := &models.Table{Name: "pairs", Columns: []string{"value", "instrument"}}
	for i, v := range []float64{10, 11, 10.5, 10.2, 20, 21, 20.5, 20.8} {
		g := "HPLC-1"
		if i >= 4 {
			g = "HPLC-2"
		}
		t.Rows = append(t.Rows, models.Row{"value": v, "instrument": g})
	}
	return t
}

func stabilityTable() *models.Table {
	t := &models.Table{Name: "stability", Columns: []string{"lot_id", "timepoint_months", "purity"}}
	for _, p := range []struct {
		lot    string
		months float64
		purity float64
	}{
		{"L1", 0, 100.0}, {"L1", 6, 99.5}, {"L1", 12, 99.1},
		{"L2", 0, 100.2}, {"L2", 6, 99.6}, {"L2", 12, 99.0},
	} {
		t.Rows = append(t.Rows, models.Row{"lot_id": p.lot, "timepoint_months": p.months, "purity": p.purity})
	}
	return t
}
