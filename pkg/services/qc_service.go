package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/adapters/datasource"
	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/config"
	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/qc"
)

// QCReport is the outcome of running the rule engine over one dataset.
type QCReport struct {
	Dataset       string               `json:"dataset"`
	Rules         []qc.Rule            `json:"rules"`
	Rows          int                  `json:"rows"`
	Discrepancies []models.Discrepancy `json:"discrepancies"`
	FirstPassRate float64              `json:"first_pass_rate"`
}

// QCService runs data-integrity rules against datasets.
type QCService interface {
	// EvaluateQC loads a dataset from the provider and evaluates it.
	EvaluateQC(ctx context.Context, datasetKey string, rules qc.RuleSet) (*QCReport, error)

	// Evaluate runs the rules over a caller-supplied table.
	Evaluate(ctx context.Context, table *models.Table, rules qc.RuleSet) (*QCReport, error)
}

type qcService struct {
	provider datasource.TableProvider
	cfg      qc.Config
	logger   *zap.Logger
}

// NewQCService creates a new QCService using the analytics configuration.
func NewQCService(provider datasource.TableProvider, analytics config.Analytics, logger *zap.Logger) QCService {
	return &qcService{
		provider: provider,
		cfg: qc.Config{
			CriticalColumns: analytics.CriticalColumns,
			ActivityColumn:  analytics.ActivityColumn,
			SpecLimits:      analytics.SpecLimits,
		},
		logger: logger.Named("qc-service"),
	}
}

var _ QCService = (*qcService)(nil)

func (s *qcService) EvaluateQC(ctx context.Context, datasetKey string, rules qc.RuleSet) (*QCReport, error) {
	table, err := s.provider.Get(ctx, datasetKey)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	report, err := s.Evaluate(ctx, table, rules)
	if err != nil {
		return nil, err
	}
	report.Dataset = datasetKey
	return report, nil
}

func (s *qcService) Evaluate(ctx context.Context, table *models.Table, rules qc.RuleSet) (*QCReport, error) {
	if table == nil {
		return nil, fmt.Errorf("no table supplied: %w", apperrors.ErrInvalidInput)
	}
	discrepancies, err := qc.Evaluate(table, rules, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("evaluate qc rules: %w", err)
	}
	if discrepancies == nil {
		discrepancies = []models.Discrepancy{}
	}

	enabled := make([]qc.Rule, 0, len(rules))
	for _, r := range []qc.Rule{qc.MissingValueCheck, qc.NegativeValueCheck, qc.SpecLimitCheck} {
		if rules.Has(r) {
			enabled = append(enabled, r)
		}
	}

	s.logger.Info("QC evaluation complete",
		zap.String("dataset", table.Name),
		zap.Int("rows", len(table.Rows)),
		zap.Int("rules", len(enabled)),
		zap.Int("discrepancies", len(discrepancies)))

	return &QCReport{
		Dataset:       table.Name,
		Rules:         enabled,
		Rows:          len(table.Rows),
		Discrepancies: discrepancies,
		FirstPassRate: qc.FirstPassRate(table, discrepancies),
	}, nil
}
