package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/analytics"
	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/models"
)

func newAnalysisService() AnalysisService {
	return NewAnalysisService(testProvider(), testAnalytics(), zap.NewNop())
}

func TestAnalysisService_CalculateCpk(t *testing.T) {
	svc := newAnalysisService()

	row, err := svc.CalculateCpk(context.Background(), "hplc", "main_impurity")

	require.NoError(t, err)
	assert.Equal(t, "main_impurity", row.CQA)
	assert.Equal(t, 5, row.Summary.Count)
	want := analytics.CpkForLimit([]float64{0.20, 0.22, 0.25, 0.21, 0.19}, models.NewSpecLimit(0, 0.5))
	assert.InDelta(t, want, row.Cpk, 1e-12)
	assert.Equal(t, row.Cpk >= 1.33, row.MeetsTarget)
	assert.True(t, row.Normality.Sufficient)
}

func TestAnalysisService_CalculateCpkErrors(t *testing.T) {
	svc := newAnalysisService()

	_, err := svc.CalculateCpk(context.Background(), "hplc", "ph")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	_, err = svc.CalculateCpk(context.Background(), "lims", "purity")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestAnalysisService_CapabilitySummaryKeepsConfigOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc := newAnalysisService()

	rows, err := svc.CapabilitySummary(context.Background(), "hplc")

	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "purity", rows[0].CQA)
	assert.Equal(t, "main_impurity", rows[1].CQA)
	assert.Equal(t, "bio_activity", rows[2].CQA)
	assert.Equal(t, 4, rows[0].Summary.Count)
}

func TestAnalysisService_CapabilityRejectsNonNumericCells(t *testing.T) {
	provider := testProvider()
	table := hplcTable()
	table.Rows[2]["bio_activity"] = "pending"
	provider.Put(table)
	svc := NewAnalysisService(provider, testAnalytics(), zap.NewNop())

	_, err := svc.CapabilitySummary(context.Background(), "hplc")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	_, err = svc.CalculateCpk(context.Background(), "hplc", "bio_activity")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))

	_, err = svc.CalculateCpk(context.Background(), "hplc", "purity")
	assert.NoError(t, err)
}

func TestAnalysisService_CapabilitySummaryCancelled(t *testing.T) {
	svc := newAnalysisService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.CapabilitySummary(ctx, "hplc")

	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalysisService_CompareGroups(t *testing.T) {
	svc := newAnalysisService()
	ctx := context.Background()

	anova, err := svc.PerformANOVA(ctx, "groups", "value", "instrument")
	require.NoError(t, err)
	require.True(t, anova.Sufficient)
	assert.Less(t, anova.PValue, 0.05)

	tukey, err := svc.PerformTukey(ctx, "groups", "value", "instrument")
	require.NoError(t, err)
	assert.True(t, tukey.Skipped, "two groups need no post-hoc test")

	cmp, err := svc.CompareGroups(ctx, "groups", "value", "instrument")
	require.NoError(t, err)
	assert.Equal(t, []string{"HPLC-1", "HPLC-2"}, cmp.Groups)
}

func TestAnalysisService_PerformANOVAMissingColumn(t *testing.T) {
	svc := newAnalysisService()

	_, err := svc.PerformANOVA(context.Background(), "groups", "value", "analyst")

	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestAnalysisService_Stability(t *testing.T) {
	svc := newAnalysisService()
	ctx := context.Background()

	pool, err := svc.TestPoolability(ctx, "stability", "purity")
	require.NoError(t, err)
	assert.True(t, pool.Poolable)
	assert.Equal(t, 2, pool.Lots)

	trend, err := svc.ProjectTrend(ctx, "stability", "purity", analytics.TrendOptions{Pooled: true})
	require.NoError(t, err)
	require.True(t, trend.Trend.Sufficient)
	assert.Less(t, trend.Trend.Slope, 0.0)
	require.NotNil(t, trend.Limit)
	assert.Nil(t, trend.Limit.Upper)
	assert.False(t, trend.OutOfSpec)
}

func TestAnalysisService_ProjectTrendOutOfSpec(t *testing.T) {
	cfg := testAnalytics()
	cfg.StabilitySpecLimits = models.SpecLimits{{CQA: "purity", Limit: models.LowerOnly(99.0)}}
	svc := NewAnalysisService(testProvider(), cfg, zap.NewNop())

	trend, err := svc.ProjectTrend(context.Background(), "stability", "purity", analytics.TrendOptions{Lot: "L1"})

	require.NoError(t, err)
	assert.True(t, trend.OutOfSpec)
}

func TestAnalysisService_RunAnomalyDetection(t *testing.T) {
	svc := newAnalysisService()

	res, err := svc.RunAnomalyDetection(context.Background(), "anomaly", nil, ptr(0.17))

	require.NoError(t, err)
	assert.Equal(t, []string{"purity", "bio_activity", "main_impurity"}, res.Features)
	require.Len(t, res.Points, 6)
	for _, p := range res.Points[:5] {
		assert.Equal(t, analytics.LabelInlier, p.Label)
	}
	assert.Equal(t, analytics.LabelAnomaly, res.Points[5].Label)
}

func TestAnalysisService_RunAnomalyDetectionBadContamination(t *testing.T) {
	svc := newAnalysisService()

	for _, c := range []float64{0, 0.7} {
		_, err := svc.RunAnomalyDetection(context.Background(), "anomaly", nil, ptr(c))
		assert.True(t, errors.Is(err, apperrors.ErrInvalidParameter), "contamination %v", c)
	}
}

func TestAnalysisService_RunAnomalyDetectionDefaultContamination(t *testing.T) {
	cfg := testAnalytics()
	cfg.AnomalyContamination = 0.17
	svc := NewAnalysisService(testProvider(), cfg, zap.NewNop())

	res, err := svc.RunAnomalyDetection(context.Background(), "anomaly", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, 0.17, res.Contamination)
	assert.Equal(t, 1, res.Anomalies)
}

func TestAnalysisService_RunAnomalyDetectionFeatureSelection(t *testing.T) {
	svc := newAnalysisService()
	tests := []struct {
		name     string
		features []string
	}{
		{"two features", []string{"purity", "bio_activity"}},
		{"four features", []string{"purity", "bio_activity", "main_impurity", "purity"}},
		{"duplicate feature", []string{"purity", "purity", "bio_activity"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RunAnomalyDetection(context.Background(), "anomaly", tt.features, ptr(0.17))
			assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
		})
	}
}

func TestAnalysisService_ZeroParallelismStillCompletes(t *testing.T) {
	cfg := testAnalytics()
	cfg.Parallelism = 0
	svc := NewAnalysisService(testProvider(), cfg, zap.NewNop())

	type result struct {
		rows []CapabilityRow
		err  error
	}
	done := make(chan result, 1)
	go func() {
		rows, err := svc.CapabilitySummary(context.Background(), "hplc")
		done <- result{rows, err}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Len(t, r.rows, 3)
	case <-time.After(2 * time.Second):
		t.Fatal("CapabilitySummary did not return with zero parallelism")
	}
}
