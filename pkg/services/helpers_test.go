package services

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/veritas-qms/veritas-engine/pkg/adapters/datasource"
	"github.com/veritas-qms/veritas-engine/pkg/audit"
	"github.com/veritas-qms/veritas-engine/pkg/config"
	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/repositories"
)

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func zapNop() *zap.Logger { return zap.NewNop() }

func strPtr(s string) *string { return &s }

func ptr[T any](v T) *T { return &v }

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) repositories.Clock {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

// newLedger builds an audit service over an in-memory repository.
func newLedger(t *testing.T) (AuditService, repositories.AuditRepository, *observer.ObservedLogs) {
	t.Helper()
	logger, logs := observedLogger()
	repo := repositories.NewAuditRepository(stepClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)))
	return NewAuditService(repo, audit.NewSecurityAuditor(logger), logger), repo, logs
}

// fakeAuditService lets a test fail individual ledger calls.
type fakeAuditService struct {
	AuditService
	appendFn func(ctx context.Context, user, action string, recordID *string, details string) (*models.AuditEntry, error)
}

func (f *fakeAuditService) Append(ctx context.Context, user, action string, recordID *string, details string) (*models.AuditEntry, error) {
	if f.appendFn != nil {
		return f.appendFn(ctx, user, action, recordID, details)
	}
	return f.AuditService.Append(ctx, user, action, recordID, details)
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

func groupsTable() *models.Table {
	t := &models.Table{Name: "groups", Columns: []string{"value", "instrument"}}
	values := []float64{10, 11, 10.5, 10.2, 20, 21, 20.5, 20.8}
	for i, v := range values {
		g := "HPLC-1"
		if i >= 4 {
			g = "HPLC-2"
		}
		t.Rows = append(t.Rows, models.Row{"value": v, "instrument": g})
	}
	return t
}

func stabilityTable() *models.Table {
	t := &models.Table{Name: "stability", Columns: []string{StabilityLotColumn, StabilityTimeColumn, "purity"}}
	series := map[string][]float64{
		"L1": {99.5, 99.2, 98.9},
		"L2": {99.4, 99.1, 98.8},
	}
	for _, lot := range []string{"L1", "L2"} {
		for i, month := range []float64{0, 6, 12} {
			t.Rows = append(t.Rows, models.Row{
				StabilityLotColumn:  lot,
				StabilityTimeColumn: month,
				"purity":            series[lot][i],
			})
		}
	}
	return t
}

func anomalyTable() *models.Table {
	t := &models.Table{Name: "anomaly", Columns: []string{"purity", "bio_activity", "main_impurity"}}
	points := [][3]float64{{1, 2, 3}, {1.1, 2.1, 3.1}, {0.9, 1.9, 2.9}, {1.2, 2.2, 3.2}, {0.8, 1.8, 2.8}, {10, 20, 30}}
	for _, p := range points {
		t.Rows = append(t.Rows, models.Row{"purity": p[0], "bio_activity": p[1], "main_impurity": p[2]})
	}
	return t
}

func testProvider() *datasource.StaticProvider {
	return datasource.NewStaticProvider(hplcTable(), groupsTable(), stabilityTable(), anomalyTable())
}

func testAnalytics() config.Analytics {
	a := config.DefaultAnalytics()
	a.Parallelism = 2
	return a
}
