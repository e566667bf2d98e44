package services

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/veritas-qms/veritas-engine/pkg/adapters/datasource"
	"github.com/veritas-qms/veritas-engine/pkg/analytics"
	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/config"
	"github.com/veritas-qms/veritas-engine/pkg/models"
)

// Stability dataset columns.
const (
	StabilityLotColumn  = "lot_id"
	StabilityTimeColumn = "timepoint_months"
)

// CapabilityRow is the capability analysis of one CQA.
type CapabilityRow struct {
	CQA         string                    `json:"cqa"`
	Limit       models.SpecLimit          `json:"limit"`
	Cpk         float64                   `json:"cpk"`
	MeetsTarget bool                      `json:"meets_target"`
	Summary     models.SummaryStats       `json:"summary"`
	Normality   analytics.NormalityResult `json:"normality"`
}

// GroupComparison is an ANOVA with its post-hoc test over one partition.
type GroupComparison struct {
	ValueColumn string                `json:"value_column"`
	GroupColumn string                `json:"group_column"`
	Groups      []string              `json:"groups"`
	ANOVA       analytics.ANOVAResult `json:"anova"`
	Tukey       analytics.TukeyResult `json:"tukey"`
}

// TrendReport is a stability trend with the shelf-life limit it is judged against.
type TrendReport struct {
	CQA   string                `json:"cqa"`
	Trend analytics.TrendResult `json:"trend"`
	Limit *models.SpecLimit     `json:"limit,omitempty"`
	// OutOfSpec is set when a predicted endpoint violates the limit.
	OutOfSpec bool `json:"out_of_spec"`
}

// AnalysisService runs the statistical engine against provider datasets.
type AnalysisService interface {
	CalculateCpk(ctx context.Context, datasetKey, cqa string) (*CapabilityRow, error)
	// CapabilitySummary analyses every configured CQA present in the dataset,
	// in configuration order.
	CapabilitySummary(ctx context.Context, datasetKey string) ([]CapabilityRow, error)
	PerformANOVA(ctx context.Context, datasetKey, valueCol, groupCol string) (analytics.ANOVAResult, error)
	PerformTukey(ctx context.Context, datasetKey, valueCol, groupCol string) (analytics.TukeyResult, error)
	CompareGroups(ctx context.Context, datasetKey, valueCol, groupCol string) (*GroupComparison, error)
	TestPoolability(ctx context.Context, datasetKey, cqa string) (analytics.PoolabilityResult, error)
	ProjectTrend(ctx context.Context, datasetKey, cqa string, opts analytics.TrendOptions) (*TrendReport, error)
	// RunAnomalyDetection uses the configured features when features is empty
	// and the configured contamination when contamination is nil. Features
	// must be exactly three distinct columns.
	RunAnomalyDetection(ctx context.Context, datasetKey string, features []string, contamination *float64) (analytics.AnomalyResult, error)
}

type analysisService struct {
	provider datasource.TableProvider
	cfg      config.Analytics
	logger   *zap.Logger
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(provider datasource.TableProvider, cfg config.Analytics, logger *zap.Logger) AnalysisService {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	return &analysisService{
		provider: provider,
		cfg:      cfg,
		logger:   logger.Named("analysis-service"),
	}
}

var _ AnalysisService = (*analysisService)(nil)

func (s *analysisService) load(ctx context.Context, key string) (*models.Table, error) {
	table, err := s.provider.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	return table, nil
}

func (s *analysisService) capability(table *models.Table, cqa string) CapabilityRow {
	limit, _ := s.cfg.SpecLimits.Lookup(cqa)
	values := table.Floats(cqa)
	cpk := analytics.CpkForLimit(values, limit)
	return CapabilityRow{
		CQA:         cqa,
		Limit:       limit,
		Cpk:         cpk,
		MeetsTarget: cpk >= s.cfg.CpkTarget,
		Summary:     analytics.Describe(values),
		Normality:   analytics.NormalityTest(values),
	}
}

func (s *analysisService) CalculateCpk(ctx context.Context, datasetKey, cqa string) (*CapabilityRow, error) {
	table, err := s.load(ctx, datasetKey)
	if err != nil {
		return nil, err
	}
	if err := table.RequireColumns(cqa); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperrors.ErrInvalidInput)
	}
	if err := table.RequireNumeric(cqa); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperrors.ErrInvalidInput)
	}
	row := s.capability(table, cqa)
	return &row, nil
}

func (s *analysisService) CapabilitySummary(ctx context.Context, datasetKey string) ([]CapabilityRow, error) {
	table, err := s.load(ctx, datasetKey)
	if err != nil {
		return nil, err
	}

	var cqas []string
	for _, c := range s.cfg.CQAs {
		if table.HasColumn(c) {
			cqas = append(cqas, c)
		}
	}
	if err := table.RequireNumeric(cqas...); err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperrors.ErrInvalidInput)
	}

	rows := make([]CapabilityRow, len(cqas))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, cqa := range cqas {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// Each goroutine writes only its own slot.
			rows[i] = s.capability(table, cqa)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("capability summary: %w", err)
	}

	s.logger.Debug("Capability summary computed",
		zap.String("dataset", datasetKey),
		zap.Int("cqas", len(rows)))
	return rows, nil
}

func (s *analysisService) partition(ctx context.Context, datasetKey, valueCol, groupCol string) (analytics.Partition, error) {
	table, err := s.load(ctx, datasetKey)
	if err != nil {
		return analytics.Partition{}, err
	}
	return analytics.NewPartition(table, valueCol, groupCol)
}

func (s *analysisService) PerformANOVA(ctx context.Context, datasetKey, valueCol, groupCol string) (analytics.ANOVAResult, error) {
	p, err := s.partition(ctx, datasetKey, valueCol, groupCol)
	if err != nil {
		return analytics.ANOVAResult{}, err
	}
	return analytics.OneWayANOVA(p), nil
}

func (s *analysisService) PerformTukey(ctx context.Context, datasetKey, valueCol, groupCol string) (analytics.TukeyResult, error) {
	cmp, err := s.CompareGroups(ctx, datasetKey, valueCol, groupCol)
	if err != nil {
		return analytics.TukeyResult{}, err
	}
	return cmp.Tukey, nil
}

func (s *analysisService) CompareGroups(ctx context.Context, datasetKey, valueCol, groupCol string) (*GroupComparison, error) {
	p, err := s.partition(ctx, datasetKey, valueCol, groupCol)
	if err != nil {
		return nil, err
	}
	anova := analytics.OneWayANOVA(p)
	tukey := analytics.TukeyHSD(p, anova)

	s.logger.Info("Group comparison complete",
		zap.String("dataset", datasetKey),
		zap.String("value_column", valueCol),
		zap.String("group_column", groupCol),
		zap.Int("groups", anova.Groups),
		zap.Bool("sufficient", anova.Sufficient),
		zap.Float64("p_value", anova.PValue))

	return &GroupComparison{
		ValueColumn: valueCol,
		GroupColumn: groupCol,
		Groups:      append([]string(nil), p.Labels...),
		ANOVA:       anova,
		Tukey:       tukey,
	}, nil
}

func (s *analysisService) TestPoolability(ctx context.Context, datasetKey, cqa string) (analytics.PoolabilityResult, error) {
	table, err := s.load(ctx, datasetKey)
	if err != nil {
		return analytics.PoolabilityResult{}, err
	}
	res, err := analytics.TestPoolability(table, cqa, StabilityTimeColumn, StabilityLotColumn)
	if err != nil {
		return analytics.PoolabilityResult{}, err
	}
	if res.Heuristic {
		s.logger.Warn("Poolability assumed without a statistical test",
			zap.String("cqa", cqa),
			zap.Int("lots", res.Lots),
			zap.Int("rows", res.N))
	}
	return res, nil
}

func (s *analysisService) ProjectTrend(ctx context.Context, datasetKey, cqa string, opts analytics.TrendOptions) (*TrendReport, error) {
	table, err := s.load(ctx, datasetKey)
	if err != nil {
		return nil, err
	}
	trend, err := analytics.ProjectTrend(table, cqa, StabilityTimeColumn, StabilityLotColumn, opts)
	if err != nil {
		return nil, err
	}

	report := &TrendReport{CQA: cqa, Trend: trend}
	if limit, ok := s.cfg.StabilitySpecLimits.Lookup(cqa); ok {
		report.Limit = &limit
		if trend.Sufficient {
			for _, y := range trend.PredY {
				if !math.IsNaN(y) && limit.Violated(y) {
					report.OutOfSpec = true
				}
			}
		}
	}
	return report, nil
}

func (s *analysisService) RunAnomalyDetection(ctx context.Context, datasetKey string, features []string, contamination *float64) (analytics.AnomalyResult, error) {
	if len(features) == 0 {
		features = s.cfg.AnomalyFeatures
	}
	if err := config.ValidateAnomalyFeatures(features); err != nil {
		return analytics.AnomalyResult{}, fmt.Errorf("anomaly detection: %w", err)
	}
	c := s.cfg.AnomalyContamination
	if contamination != nil {
		c = *contamination
	}
	table, err := s.load(ctx, datasetKey)
	if err != nil {
		return analytics.AnomalyResult{}, err
	}
	res, err := analytics.DetectAnomalies(table, features, c, s.cfg.AnomalySeed)
	if err != nil {
		return analytics.AnomalyResult{}, err
	}
	s.logger.Info("Anomaly detection complete",
		zap.String("dataset", datasetKey),
		zap.Strings("features", features),
		zap.Int("points", len(res.Points)),
		zap.Int("anomalies", res.Anomalies),
		zap.Int("excluded", res.Excluded))
	return res, nil
}
