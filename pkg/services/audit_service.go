package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/audit"
	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/repositories"
)

// AuditService is the audit ledger: an append-only, hash-chained record of
// every regulated action.
type AuditService interface {
	// Append records an action. Empty user or action fails with ErrInvalidEntry
	// and nothing is stored.
	Append(ctx context.Context, user, action string, recordID *string, details string) (*models.AuditEntry, error)

	// Query returns entries matching every supplied filter, newest first.
	Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error)

	// Signatures returns e-signature events, newest first.
	Signatures(ctx context.Context) ([]*models.AuditEntry, error)

	// Verify recomputes the hash chain and fails with ErrLedgerTampered at
	// the first inconsistent entry.
	Verify(ctx context.Context) error

	// ExportCSV writes the filtered entries as CSV, newest first.
	ExportCSV(ctx context.Context, w io.Writer, filter models.AuditFilter) error

	// Entries returns all entries in sequence order.
	Entries(ctx context.Context) ([]*models.AuditEntry, error)

	// Len returns the number of entries.
	Len(ctx context.Context) (int, error)
}

type auditService struct {
	repo     repositories.AuditRepository
	security *audit.SecurityAuditor
	logger   *zap.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(repo repositories.AuditRepository, security *audit.SecurityAuditor, logger *zap.Logger) AuditService {
	return &auditService{
		repo:     repo,
		security: security,
		logger:   logger.Named("audit-service"),
	}
}

var _ AuditService = (*auditService)(nil)

func (s *auditService) Append(ctx context.Context, user, action string, recordID *string, details string) (*models.AuditEntry, error) {
	entry, err := s.repo.Append(ctx, user, action, recordID, details)
	if err != nil {
		s.logger.Error("Failed to append audit entry",
			zap.String("user", user),
			zap.String("action", action),
			zap.Error(err))
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	s.logger.Debug("Audit entry appended",
		zap.Uint64("sequence", entry.Sequence),
		zap.String("action", entry.Action),
		zap.String("record_id", entry.RecordIDValue()))
	return entry, nil
}

func (s *auditService) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	entries, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	out := make([]*models.AuditEntry, 0, len(entries))
	for _, e := range entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// sortNewestFirst orders by timestamp descending, then sequence descending.
func sortNewestFirst(entries []*models.AuditEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].Sequence > entries[j].Sequence
	})
}

func (s *auditService) Signatures(ctx context.Context) ([]*models.AuditEntry, error) {
	return s.Query(ctx, models.AuditFilter{Actions: []string{models.AuditActionSignatureApplied}})
}

func (s *auditService) Verify(ctx context.Context) error {
	entries, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list audit entries: %w", err)
	}

	prev := repositories.GenesisHash
	for i, e := range entries {
		var reason string
		switch {
		case e.Sequence != uint64(i+1):
			reason = fmt.Sprintf("expected sequence %d", i+1)
		case e.PrevHash != prev:
			reason = "previous hash does not match"
		case repositories.HashAuditEntry(e) != e.Hash:
			reason = "entry hash does not match contents"
		}
		if reason != "" {
			s.security.LogLedgerTampered(ctx, e.Sequence, reason)
			return fmt.Errorf("entry %d: %s: %w", e.Sequence, reason, apperrors.ErrLedgerTampered)
		}
		prev = e.Hash
	}
	return nil
}

// auditCSVHeader is the column order of ExportCSV.
var auditCSVHeader = []string{"sequence_no", "timestamp", "user", "action", "record_id", "details", "hash"}

func (s *auditService) ExportCSV(ctx context.Context, w io.Writer, filter models.AuditFilter) error {
	entries, err := s.Query(ctx, filter)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(auditCSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range entries {
		record := []string{
			strconv.FormatUint(e.Sequence, 10),
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.User,
			e.Action,
			e.RecordIDValue(),
			e.Details,
			e.Hash,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", e.Sequence, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func (s *auditService) Entries(ctx context.Context) ([]*models.AuditEntry, error) {
	return s.repo.List(ctx)
}

func (s *auditService) Len(ctx context.Context) (int, error) {
	return s.repo.Len(ctx)
}
