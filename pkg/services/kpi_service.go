package services

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/qc"
)

// KPI names, in dashboard order.
const (
	KPIOpenDeviations    = "Open Deviations"
	KPIFirstPassRate     = "QC First-Pass Rate"
	KPIMeanCpk           = "Mean Cpk"
	KPISignaturesApplied = "Signatures Applied"
)

// DeviationHubLink is where deviation action items point.
const DeviationHubLink = "/deviations"

// KPIService computes headline metrics and role briefings on demand.
type KPIService interface {
	// KPIs evaluates every headline metric against the given process dataset.
	KPIs(ctx context.Context, datasetKey string) ([]models.KPI, error)

	// ActionItems returns the briefing for a role. Unknown roles get none.
	ActionItems(ctx context.Context, role string) ([]models.ActionItem, error)
}

type kpiService struct {
	deviations DeviationService
	qc         QCService
	analysis   AnalysisService
	ledger     AuditService
	cpkTarget  float64
	logger     *zap.Logger
}

// NewKPIService creates a new KPIService.
func NewKPIService(
	deviations DeviationService,
	qcSvc QCService,
	analysis AnalysisService,
	ledger AuditService,
	cpkTarget float64,
	logger *zap.Logger,
) KPIService {
	return &kpiService{
		deviations: deviations,
		qc:         qcSvc,
		analysis:   analysis,
		ledger:     ledger,
		cpkTarget:  cpkTarget,
		logger:     logger.Named("kpi-service"),
	}
}

var _ KPIService = (*kpiService)(nil)

func (s *kpiService) openDeviations(ctx context.Context) (int, error) {
	all, err := s.deviations.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list deviations: %w", err)
	}
	wf := s.deviations.Workflow()
	open := 0
	for _, d := range all {
		if !wf.IsTerminal(d.Status) {
			open++
		}
	}
	return open, nil
}

func (s *kpiService) KPIs(ctx context.Context, datasetKey string) ([]models.KPI, error) {
	kpis := make([]models.KPI, 4)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		open, err := s.openDeviations(gctx)
		if err != nil {
			return err
		}
		kpis[0] = models.KPI{
			Name:  KPIOpenDeviations,
			Value: fmt.Sprintf("%d", open),
			Text:  fmt.Sprintf("%d deviations are not closed.", open),
		}
		return nil
	})

	g.Go(func() error {
		report, err := s.qc.EvaluateQC(gctx, datasetKey, qc.AllRules())
		if err != nil {
			return err
		}
		kpis[1] = models.KPI{
			Name:  KPIFirstPassRate,
			Value: fmt.Sprintf("%.1f%%", report.FirstPassRate*100),
			Text:  fmt.Sprintf("%d discrepancies across %d samples.", len(report.Discrepancies), report.Rows),
		}
		return nil
	})

	g.Go(func() error {
		rows, err := s.analysis.CapabilitySummary(gctx, datasetKey)
		if err != nil {
			return err
		}
		mean, n := 0.0, 0
		for _, r := range rows {
			if !math.IsNaN(r.Cpk) && !math.IsInf(r.Cpk, 0) {
				mean += r.Cpk
				n++
			}
		}
		kpi := models.KPI{Name: KPIMeanCpk, Value: "n/a", Text: "No capability data."}
		if n > 0 {
			mean /= float64(n)
			delta := mean - s.cpkTarget
			kpi.Value = fmt.Sprintf("%.2f", mean)
			kpi.Delta = &delta
			kpi.Text = fmt.Sprintf("Across %d CQAs against a target of %.2f.", n, s.cpkTarget)
		}
		kpis[2] = kpi
		return nil
	})

	g.Go(func() error {
		sigs, err := s.ledger.Signatures(gctx)
		if err != nil {
			return err
		}
		kpis[3] = models.KPI{
			Name:  KPISignaturesApplied,
			Value: fmt.Sprintf("%d", len(sigs)),
			Text:  "Electronic signatures recorded in the audit ledger.",
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Error("Failed to compute KPIs",
			zap.String("dataset", datasetKey),
			zap.Error(err))
		return nil, fmt.Errorf("compute kpis: %w", err)
	}
	return kpis, nil
}

func (s *kpiService) ActionItems(ctx context.Context, role string) ([]models.ActionItem, error) {
	items := []models.ActionItem{}
	switch role {
	case models.RoleDTELeadership:
		open, err := s.openDeviations(ctx)
		if err != nil {
			return nil, err
		}
		if open > 0 {
			items = append(items, models.ActionItem{
				Title:   "Open Deviations",
				Details: fmt.Sprintf("%d require attention.", open),
				Link:    DeviationHubLink,
			})
		}
	}
	return items, nil
}
