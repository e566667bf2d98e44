package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/audit"
	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/repositories"
)

// deviationIDBase offsets generated deviation numbers.
const deviationIDBase = 2400

// NewDeviation is the input for a manually raised deviation.
type NewDeviation struct {
	Title        string                   `json:"title"`
	Priority     models.DeviationPriority `json:"priority"`
	LinkedRecord string                   `json:"linked_record"`
}

// Investigation carries RCA and CAPA edits. Nil fields are left unchanged.
type Investigation struct {
	RCA  *models.RCA  `json:"rca,omitempty"`
	CAPA *models.CAPA `json:"capa,omitempty"`
}

// DeviationService manages the deviation lifecycle. Every mutation is
// recorded in the audit ledger; a mutation whose ledger write fails is
// undone.
type DeviationService interface {
	// Advance moves the deviation one state forward if it is still in
	// expected. A stale or terminal state yields ErrInvalidTransition.
	Advance(ctx context.Context, id string, expected models.DeviationStatus, user string) (*models.Deviation, error)

	// CreateFromDiscrepancies raises one deviation covering a QC result.
	CreateFromDiscrepancies(ctx context.Context, discrepancies []models.Discrepancy, sourceRecord, user string) (*models.Deviation, error)

	Create(ctx context.Context, req NewDeviation, user string) (*models.Deviation, error)
	Get(ctx context.Context, id string) (*models.Deviation, error)
	List(ctx context.Context, statuses ...models.DeviationStatus) ([]*models.Deviation, error)

	// UpdateInvestigation edits RCA/CAPA notes. Closed deviations are read-only.
	UpdateInvestigation(ctx context.Context, id string, inv Investigation, user string) (*models.Deviation, error)

	// Workflow returns the configured state order.
	Workflow() models.DeviationWorkflow
}

type deviationService struct {
	repo     repositories.DeviationRepository
	ledger   AuditService
	security *audit.SecurityAuditor
	workflow models.DeviationWorkflow
	now      func() time.Time
	logger   *zap.Logger

	// createMu keeps DEV-<n> allocation and insertion together.
	createMu sync.Mutex
}

// NewDeviationService creates a new DeviationService.
func NewDeviationService(
	repo repositories.DeviationRepository,
	ledger AuditService,
	security *audit.SecurityAuditor,
	workflow models.DeviationWorkflow,
	logger *zap.Logger,
) DeviationService {
	if len(workflow) == 0 {
		workflow = models.DefaultDeviationWorkflow
	}
	return &deviationService{
		repo:     repo,
		ledger:   ledger,
		security: security,
		workflow: workflow,
		now:      time.Now,
		logger:   logger.Named("deviation-service"),
	}
}

var _ DeviationService = (*deviationService)(nil)

func (s *deviationService) Workflow() models.DeviationWorkflow {
	return s.workflow
}

func (s *deviationService) Advance(ctx context.Context, id string, expected models.DeviationStatus, user string) (*models.Deviation, error) {
	if strings.TrimSpace(user) == "" {
		return nil, fmt.Errorf("user is required: %w", apperrors.ErrInvalidInput)
	}
	next, ok := s.workflow.Next(expected)
	if !ok {
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		s.security.LogStaleTransition(ctx, user, id, string(expected), string(current.Status))
		return nil, fmt.Errorf("deviation %s: no transition from %q: %w", id, expected, apperrors.ErrInvalidTransition)
	}

	// The ledger entry is written inside the store's critical section so the
	// ledger order of transitions matches the order they were applied.
	details := fmt.Sprintf("%s -> %s", expected, next)
	updated, err := s.repo.CompareAndSwapStatus(ctx, id, expected, next, s.now().UTC(), func(*models.Deviation) error {
		if _, err := s.ledger.Append(ctx, user, models.AuditActionDeviationStatusChanged, &id, details); err != nil {
			return fmt.Errorf("record status change: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			actual := ""
			if current, getErr := s.repo.Get(ctx, id); getErr == nil {
				actual = string(current.Status)
			}
			s.security.LogStaleTransition(ctx, user, id, string(expected), actual)
		}
		return nil, err
	}

	s.logger.Info("Deviation advanced",
		zap.String("deviation_id", id),
		zap.String("from", string(expected)),
		zap.String("to", string(next)),
		zap.String("user", user))
	return updated, nil
}

func (s *deviationService) CreateFromDiscrepancies(ctx context.Context, discrepancies []models.Discrepancy, sourceRecord, user string) (*models.Deviation, error) {
	if len(discrepancies) == 0 {
		return nil, fmt.Errorf("no discrepancies to raise: %w", apperrors.ErrInvalidInput)
	}
	if strings.TrimSpace(sourceRecord) == "" {
		return nil, fmt.Errorf("source record is required: %w", apperrors.ErrInvalidInput)
	}

	kinds := issueKinds(discrepancies)
	priority := models.DeviationPriorityMedium
	for _, k := range kinds {
		if k == models.IssueOutOfSpecification || k == models.IssueImpossibleValue {
			priority = models.DeviationPriorityHigh
		}
	}

	kindNames := make([]string, len(kinds))
	for i, k := range kinds {
		kindNames[i] = string(k)
	}
	req := NewDeviation{
		Title: fmt.Sprintf("QC: %d discrepancies in %s (%s)",
			len(discrepancies), sourceRecord, strings.Join(kindNames, ", ")),
		Priority:     priority,
		LinkedRecord: fmt.Sprintf("QC-%s-%s", sourceRecord, uuid.NewString()[:8]),
	}
	return s.Create(ctx, req, user)
}

// issueKinds returns the distinct kinds in a stable order.
func issueKinds(discrepancies []models.Discrepancy) []models.IssueKind {
	seen := make(map[models.IssueKind]bool)
	var kinds []models.IssueKind
	for _, d := range discrepancies {
		if !seen[d.Issue] {
			seen[d.Issue] = true
			kinds = append(kinds, d.Issue)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (s *deviationService) Create(ctx context.Context, req NewDeviation, user string) (*models.Deviation, error) {
	if strings.TrimSpace(user) == "" {
		return nil, fmt.Errorf("user is required: %w", apperrors.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("deviation title is required: %w", apperrors.ErrInvalidInput)
	}
	if req.Priority == "" {
		req.Priority = models.DeviationPriorityMedium
	}
	if !req.Priority.IsValid() {
		return nil, fmt.Errorf("unknown priority %q: %w", req.Priority, apperrors.ErrInvalidInput)
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count deviations: %w", err)
	}
	now := s.now().UTC()
	dev := &models.Deviation{
		ID:           fmt.Sprintf("DEV-%d", deviationIDBase+count),
		Status:       s.workflow.Initial(),
		Title:        req.Title,
		Priority:     req.Priority,
		LinkedRecord: req.LinkedRecord,
		CreatedBy:    user,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// The store checks the id before the ledger append runs; a rejected
	// deviation leaves no ledger entry.
	details := fmt.Sprintf("%s [%s] linked to %s", dev.Title, dev.Priority, dev.LinkedRecord)
	err = s.repo.Create(ctx, dev, func(*models.Deviation) error {
		if _, err := s.ledger.Append(ctx, user, models.AuditActionDeviationCreated, &dev.ID, details); err != nil {
			return fmt.Errorf("record deviation creation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Deviation created",
		zap.String("deviation_id", dev.ID),
		zap.String("priority", string(dev.Priority)),
		zap.String("linked_record", dev.LinkedRecord),
		zap.String("user", user))
	return dev.Clone(), nil
}

func (s *deviationService) Get(ctx context.Context, id string) (*models.Deviation, error) {
	return s.repo.Get(ctx, id)
}

func (s *deviationService) List(ctx context.Context, statuses ...models.DeviationStatus) ([]*models.Deviation, error) {
	return s.repo.List(ctx, statuses...)
}

func (s *deviationService) UpdateInvestigation(ctx context.Context, id string, inv Investigation, user string) (*models.Deviation, error) {
	if strings.TrimSpace(user) == "" {
		return nil, fmt.Errorf("user is required: %w", apperrors.ErrInvalidInput)
	}
	if inv.RCA == nil && inv.CAPA == nil {
		return nil, fmt.Errorf("nothing to update: %w", apperrors.ErrInvalidInput)
	}

	var fields []string
	if inv.RCA != nil {
		fields = append(fields, "RCA")
	}
	if inv.CAPA != nil {
		fields = append(fields, "CAPA")
	}
	details := "Updated " + strings.Join(fields, " and ")

	updated, err := s.repo.Update(ctx, id, func(d *models.Deviation) error {
		if s.workflow.IsTerminal(d.Status) {
			return fmt.Errorf("deviation %s is %s: %w", id, d.Status, apperrors.ErrInvalidTransition)
		}
		if inv.RCA != nil {
			d.RCA = *inv.RCA
		}
		if inv.CAPA != nil {
			d.CAPA = *inv.CAPA
		}
		d.UpdatedAt = s.now().UTC()
		return nil
	}, func(*models.Deviation) error {
		if _, err := s.ledger.Append(ctx, user, models.AuditActionDeviationUpdated, &id, details); err != nil {
			return fmt.Errorf("record investigation update: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Deviation investigation updated",
		zap.String("deviation_id", id),
		zap.Strings("fields", fields),
		zap.String("user", user))
	return updated, nil
}
