package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/repositories"
)

// LineageChain is the append-ordered history of one record id. Each record
// has exactly one linear chain, never a general graph.
type LineageChain struct {
	RecordID string               `json:"record_id"`
	Entries  []*models.AuditEntry `json:"entries"`
}

// LineageEdge links two consecutive events of a chain.
type LineageEdge struct {
	From *models.AuditEntry
	To   *models.AuditEntry
}

// Edges yields the consecutive pairs of the chain.
func (c *LineageChain) Edges() []LineageEdge {
	if len(c.Entries) < 2 {
		return nil
	}
	edges := make([]LineageEdge, 0, len(c.Entries)-1)
	for i := 1; i < len(c.Entries); i++ {
		edges = append(edges, LineageEdge{From: c.Entries[i-1], To: c.Entries[i]})
	}
	return edges
}

// DOT renders the chain as a Graphviz digraph, one node per event.
func (c *LineageChain) DOT() string {
	var b strings.Builder
	b.WriteString("digraph lineage {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  label=" + strconv.Quote("Lineage of "+c.RecordID) + ";\n")
	for _, e := range c.Entries {
		label := fmt.Sprintf("%s\n%s\n%s", e.Action, e.User, e.Timestamp.UTC().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(&b, "  e%d [shape=box, label=%s];\n", e.Sequence, strconv.Quote(label))
	}
	for _, edge := range c.Edges() {
		fmt.Fprintf(&b, "  e%d -> e%d;\n", edge.From.Sequence, edge.To.Sequence)
	}
	b.WriteString("}\n")
	return b.String()
}

// LineageService reconstructs the causal history of a record from the ledger.
type LineageService interface {
	// Trace returns entries whose record id equals recordID, ascending by
	// sequence. Unknown ids yield an empty chain.
	Trace(ctx context.Context, recordID string) (*LineageChain, error)
}

type lineageService struct {
	repo   repositories.AuditRepository
	logger *zap.Logger
}

// NewLineageService creates a new LineageService.
func NewLineageService(repo repositories.AuditRepository, logger *zap.Logger) LineageService {
	return &lineageService{
		repo:   repo,
		logger: logger.Named("lineage-service"),
	}
}

var _ LineageService = (*lineageService)(nil)

func (s *lineageService) Trace(ctx context.Context, recordID string) (*LineageChain, error) {
	if strings.TrimSpace(recordID) == "" {
		return nil, fmt.Errorf("record id is required: %w", apperrors.ErrInvalidInput)
	}
	entries, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}

	// List is already in sequence order.
	chain := &LineageChain{RecordID: recordID, Entries: []*models.AuditEntry{}}
	for _, e := range entries {
		if e.RecordID != nil && *e.RecordID == recordID {
			chain.Entries = append(chain.Entries, e)
		}
	}
	s.logger.Debug("Traced lineage",
		zap.String("record_id", recordID),
		zap.Int("events", len(chain.Entries)))
	return chain, nil
}
