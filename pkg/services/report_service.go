package services

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veritas-qms/veritas-engine/pkg/analytics"
	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/audit"
	"github.com/veritas-qms/veritas-engine/pkg/auth"
	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/render"
	"github.com/veritas-qms/veritas-engine/pkg/repositories"
)

const (
	reportTitle = "VERITAS - Automated Data Summary Report"
	slidesTitle = "VERITAS Automated Study Report"
)

// DraftRequest describes the report an analyst wants drafted.
type DraftRequest struct {
	StudyID    string              `json:"study_id"`
	Format     models.ReportFormat `json:"format"`
	CQA        string              `json:"cqa"`
	Limit      models.SpecLimit    `json:"limit"`
	Data       *models.Table       `json:"data"`
	Commentary string              `json:"commentary"`
	// Sections lists the optional sections to include. Empty means all.
	Sections []string `json:"sections"`
	User     string   `json:"user"`
}

var allReportSections = []string{
	models.ReportSectionSummary,
	models.ReportSectionCapability,
	models.ReportSectionAppendix,
}

func (r DraftRequest) validate() error {
	switch {
	case strings.TrimSpace(r.StudyID) == "":
		return fmt.Errorf("study id is required: %w", apperrors.ErrInvalidInput)
	case !r.Format.IsValid():
		return fmt.Errorf("unknown report format %q: %w", r.Format, apperrors.ErrInvalidInput)
	case strings.TrimSpace(r.CQA) == "":
		return fmt.Errorf("cqa is required: %w", apperrors.ErrInvalidInput)
	case r.Data == nil || len(r.Data.Rows) == 0:
		return fmt.Errorf("report data is empty: %w", apperrors.ErrInvalidInput)
	case strings.TrimSpace(r.User) == "":
		return fmt.Errorf("user is required: %w", apperrors.ErrInvalidInput)
	}
	if err := r.Data.RequireColumns(r.CQA); err != nil {
		return fmt.Errorf("%v: %w", err, apperrors.ErrInvalidInput)
	}
	if err := r.Data.RequireNumeric(r.CQA); err != nil {
		return fmt.Errorf("%v: %w", err, apperrors.ErrInvalidInput)
	}
	if err := r.Limit.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, apperrors.ErrInvalidInput)
	}
	for _, s := range r.Sections {
		if !slices.Contains(allReportSections, s) {
			return fmt.Errorf("unknown report section %q: %w", s, apperrors.ErrInvalidInput)
		}
	}
	return nil
}

// ReportService drafts reports and turns drafts into signed, locked finals.
type ReportService interface {
	// GenerateDraft renders a watermarked draft and keeps its source data for
	// signing. It does not write to the ledger.
	GenerateDraft(ctx context.Context, req DraftRequest) (*models.ReportArtifact, error)

	// SignAndLock verifies the signer, renders the final from the retained
	// draft data and records exactly one signature event. A draft can be
	// signed once.
	SignAndLock(ctx context.Context, requestID string, reason models.SigningReason, user, secret string) (*models.ReportArtifact, error)

	// Pending returns the retained data of an unsigned draft.
	Pending(ctx context.Context, requestID string) (*models.DraftData, error)
}

type reportService struct {
	drafts    repositories.DraftRepository
	ledger    AuditService
	verifier  auth.CredentialVerifier
	renderer  render.Renderer
	security  *audit.SecurityAuditor
	watermark string
	cpkTarget float64
	now       func() time.Time
	logger    *zap.Logger
}

// NewReportService creates a new ReportService.
func NewReportService(
	drafts repositories.DraftRepository,
	ledger AuditService,
	verifier auth.CredentialVerifier,
	renderer render.Renderer,
	security *audit.SecurityAuditor,
	watermark string,
	cpkTarget float64,
	logger *zap.Logger,
) ReportService {
	if watermark == "" {
		watermark = "DRAFT"
	}
	return &reportService{
		drafts:    drafts,
		ledger:    ledger,
		verifier:  verifier,
		renderer:  renderer,
		security:  security,
		watermark: watermark,
		cpkTarget: cpkTarget,
		now:       time.Now,
		logger:    logger.Named("report-service"),
	}
}

var _ ReportService = (*reportService)(nil)

func (s *reportService) GenerateDraft(ctx context.Context, req DraftRequest) (*models.ReportArtifact, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	sections := req.Sections
	if len(sections) == 0 {
		sections = allReportSections
	}

	values := req.Data.Floats(req.CQA)
	draft := &models.DraftData{
		RequestID:  uuid.NewString(),
		StudyID:    req.StudyID,
		Format:     req.Format,
		CQA:        req.CQA,
		Limit:      req.Limit,
		Data:       req.Data.Clone(),
		Commentary: req.Commentary,
		Sections:   append([]string(nil), sections...),
		Cpk:        analytics.CpkForLimit(values, req.Limit),
		Summary:    analytics.Describe(values),
		CreatedBy:  req.User,
		CreatedAt:  s.now().UTC(),
	}

	doc := s.document(draft)
	doc.Watermark = s.watermark
	payload, err := s.renderer.Render(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("render draft: %w", err)
	}
	if err := s.drafts.Save(ctx, draft); err != nil {
		return nil, fmt.Errorf("store draft: %w", err)
	}

	media := s.renderer.MediaType(draft.Format)
	artifact := &models.ReportArtifact{
		Kind:      models.ArtifactKindDraft,
		RequestID: draft.RequestID,
		StudyID:   draft.StudyID,
		Format:    draft.Format,
		Filename:  models.ReportFilename(draft.StudyID, models.ArtifactKindDraft, media.Extension),
		MIMEType:  media.MIME,
		Payload:   payload,
		Watermark: s.watermark,
	}

	s.logger.Info("Report draft generated",
		zap.String("request_id", draft.RequestID),
		zap.String("study_id", draft.StudyID),
		zap.String("format", string(draft.Format)),
		zap.Int("bytes", len(payload)))
	return artifact, nil
}

func (s *reportService) SignAndLock(ctx context.Context, requestID string, reason models.SigningReason, user, secret string) (*models.ReportArtifact, error) {
	if !reason.IsValid() {
		return nil, fmt.Errorf("unknown signing reason %q: %w", reason, apperrors.ErrInvalidInput)
	}
	if strings.TrimSpace(user) == "" {
		return nil, fmt.Errorf("signer is required: %w", apperrors.ErrInvalidInput)
	}

	draft, err := s.drafts.Take(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if !s.verifier.Verify(ctx, user, secret) {
		s.restore(ctx, draft)
		s.security.LogSignatureAuthFailure(ctx, user, requestID)
		return nil, fmt.Errorf("signer %s: %w", user, apperrors.ErrAuthenticationFailed)
	}

	sig := &models.Signature{User: user, Timestamp: s.now().UTC(), Reason: reason}
	doc := s.document(draft)
	doc.Signature = &render.SignatureBlock{User: sig.User, Timestamp: sig.Timestamp, Reason: sig.Reason}
	payload, err := s.renderer.Render(ctx, doc)
	if err != nil {
		s.restore(ctx, draft)
		return nil, fmt.Errorf("render final: %w", err)
	}

	details := fmt.Sprintf("Signed %s report for study %s. Reason: %s", draft.Format, draft.StudyID, reason)
	if _, err := s.ledger.Append(ctx, user, models.AuditActionSignatureApplied, &requestID, details); err != nil {
		s.restore(ctx, draft)
		return nil, fmt.Errorf("record signature: %w", err)
	}
	if err := s.drafts.Finalize(ctx, requestID); err != nil {
		// The signature is already on the ledger; the draft stays consumed.
		s.logger.Error("Failed to finalize signed draft",
			zap.String("request_id", requestID),
			zap.Error(err))
	}

	media := s.renderer.MediaType(draft.Format)
	artifact := &models.ReportArtifact{
		Kind:      models.ArtifactKindFinal,
		RequestID: requestID,
		StudyID:   draft.StudyID,
		Format:    draft.Format,
		Filename:  models.ReportFilename(draft.StudyID, models.ArtifactKindFinal, media.Extension),
		MIMEType:  media.MIME,
		Payload:   payload,
		Signature: sig,
	}

	s.logger.Info("Report signed and locked",
		zap.String("request_id", requestID),
		zap.String("study_id", draft.StudyID),
		zap.String("user", user),
		zap.String("reason", string(reason)))
	return artifact, nil
}

func (s *reportService) Pending(ctx context.Context, requestID string) (*models.DraftData, error) {
	return s.drafts.Get(ctx, requestID)
}

func (s *reportService) restore(ctx context.Context, draft *models.DraftData) {
	if err := s.drafts.Restore(ctx, draft); err != nil {
		s.logger.Error("Failed to restore draft after unsuccessful signing",
			zap.String("request_id", draft.RequestID),
			zap.Error(err))
	}
}

// document lays out the report body. Watermark and signature are left to the caller.
func (s *reportService) document(d *models.DraftData) render.Document {
	doc := render.Document{
		Title:       reportTitle,
		Subtitle:    "Study ID: " + d.StudyID,
		Format:      d.Format,
		GeneratedAt: s.now().UTC(),
	}
	if d.Format == models.ReportFormatSlides {
		doc.Title = slidesTitle
	}

	commentary := d.Commentary
	if strings.TrimSpace(commentary) == "" {
		commentary = "No commentary provided."
	}
	doc.Sections = append(doc.Sections, render.Section{
		Heading:    "1.0 Summary for Study: " + d.StudyID,
		Paragraphs: []string{"Analyst Commentary:", commentary},
	})

	if d.HasSection(models.ReportSectionSummary) {
		doc.Sections = append(doc.Sections, render.Section{
			Heading: "2.1 Summary Statistics",
			Tables:  []render.Table{summaryTable(d.CQA, d.Summary)},
		})
	}
	if d.HasSection(models.ReportSectionCapability) {
		verdict := "meets"
		if d.Cpk < s.cpkTarget {
			verdict = "does not meet"
		}
		doc.Sections = append(doc.Sections, render.Section{
			Heading: "2.2 Process Capability Analysis",
			Paragraphs: []string{
				fmt.Sprintf("Cpk for %s: %s (%s).", d.CQA, round3(d.Cpk), d.Limit),
				fmt.Sprintf("The process %s the capability target of %s.", verdict, round3(s.cpkTarget)),
			},
			Charts: []render.Chart{{Title: "Process Capability: " + d.CQA, Handle: "capability/" + d.CQA}},
		})
	}
	if d.HasSection(models.ReportSectionAppendix) {
		doc.Sections = append(doc.Sections, render.Section{
			Heading: "3.0 Appendix: Full Dataset",
			Tables:  []render.Table{datasetTable(d.Data)},
		})
	}
	if d.Format != models.ReportFormatSlides {
		doc.Sections = append(doc.Sections, render.Section{
			Heading:    "Document Control",
			Paragraphs: []string{draftControlText(d)},
		})
	}
	return doc
}

func draftControlText(d *models.DraftData) string {
	return fmt.Sprintf("Request %s prepared by %s on %s.",
		d.RequestID, d.CreatedBy, d.CreatedAt.Format(time.RFC3339))
}

func summaryTable(cqa string, st models.SummaryStats) render.Table {
	return render.Table{
		Caption: cqa,
		Columns: []string{"Statistic", "Value"},
		Rows: [][]string{
			{"count", strconv.Itoa(st.Count)},
			{"mean", round3(st.Mean)},
			{"std", round3(st.StdDev)},
			{"min", round3(st.Min)},
			{"25%", round3(st.Q1)},
			{"50%", round3(st.Median)},
			{"75%", round3(st.Q3)},
			{"max", round3(st.Max)},
		},
	}
}

func datasetTable(t *models.Table) render.Table {
	out := render.Table{Columns: append([]string(nil), t.Columns...)}
	for _, row := range t.Rows {
		cells := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cells[i] = row.String(c)
		}
		out.Rows = append(out.Rows, cells)
	}
	return out
}

func round3(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
