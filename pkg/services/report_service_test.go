package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest/observer"

	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/audit"
	"github.com/veritas-qms/veritas-engine/pkg/auth"
	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/render"
	"github.com/veritas-qms/veritas-engine/pkg/repositories"
)

const signerSecret = "correct horse"

type reportFixture struct {
	svc    ReportService
	ledger AuditService
	fake   *fakeAuditService
	render *stubRenderer
	logs   *observer.ObservedLogs
}

// stubRenderer delegates to the HTML renderer unless failFn says otherwise.
type stubRenderer struct {
	*render.HTMLRenderer
	failFn func(doc render.Document) error
}

func (r *stubRenderer) Render(ctx context.Context, doc render.Document) ([]byte, error) {
	if r.failFn != nil {
		if err := r.failFn(doc); err != nil {
			return nil, err
		}
	}
	return r.HTMLRenderer.Render(ctx, doc)
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	ledger, _, _ := newLedger(t)
	logger, logs := observedLogger()
	fake := &fakeAuditService{AuditService: ledger}
	stub := &stubRenderer{HTMLRenderer: render.NewHTMLRenderer(logger)}
	verifier := auth.VerifierFunc(func(ctx context.Context, user, secret string) bool {
		return user == "qa.lead" && secret == signerSecret
	})
	svc := NewReportService(repositories.NewDraftRepository(), fake, verifier, stub,
		audit.NewSecurityAuditor(logger), "DRAFT", 1.33, logger)
	return &reportFixture{svc: svc, ledger: ledger, fake: fake, render: stub, logs: logs}
}

func draftRequest() DraftRequest {
	return DraftRequest{
		StudyID:    "VX-101",
		Format:     models.ReportFormatPDF,
		CQA:        "purity",
		Limit:      models.NewSpecLimit(98, 102),
		Data:       hplcTable(),
		Commentary: "All lots released.",
		User:       "j.doe",
	}
}

func (f *reportFixture) signatureCount(t *testing.T) int {
	t.Helper()
	sigs, err := f.ledger.Signatures(context.Background())
	require.NoError(t, err)
	return len(sigs)
}

func TestReportService_GenerateDraft(t *testing.T) {
	f := newReportFixture(t)

	draft, err := f.svc.GenerateDraft(context.Background(), draftRequest())

	require.NoError(t, err)
	require.NoError(t, draft.Validate())
	assert.Equal(t, models.ArtifactKindDraft, draft.Kind)
	assert.Equal(t, "VERITAS_VX-101_DRAFT.html", draft.Filename)
	assert.Equal(t, render.MediaTypeHTML.MIME, draft.MIMEType)
	assert.Contains(t, string(draft.Payload), `class="watermark"`)
	assert.Contains(t, string(draft.Payload), "2.1 Summary Statistics")
	assert.Contains(t, string(draft.Payload), "3.0 Appendix: Full Dataset")
	assert.NotContains(t, string(draft.Payload), render.SignatureTitle)

	n, err := f.ledger.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "drafting writes nothing to the ledger")

	pending, err := f.svc.Pending(context.Background(), draft.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "purity", pending.CQA)
	assert.Equal(t, 4, pending.Summary.Count)
}

func TestReportService_GenerateDraftSectionsSubset(t *testing.T) {
	f := newReportFixture(t)
	req := draftRequest()
	req.Sections = []string{models.ReportSectionCapability}

	draft, err := f.svc.GenerateDraft(context.Background(), req)

	require.NoError(t, err)
	assert.Contains(t, string(draft.Payload), "2.2 Process Capability Analysis")
	assert.NotContains(t, string(draft.Payload), "2.1 Summary Statistics")
	assert.NotContains(t, string(draft.Payload), "3.0 Appendix")
}

func TestReportService_GenerateDraftValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *DraftRequest)
	}{
		{name: "no study", mutate: func(r *DraftRequest) { r.StudyID = "" }},
		{name: "bad format", mutate: func(r *DraftRequest) { r.Format = "DOCX" }},
		{name: "no data", mutate: func(r *DraftRequest) { r.Data = nil }},
		{name: "unknown cqa column", mutate: func(r *DraftRequest) { r.CQA = "ph" }},
		{name: "inverted limit", mutate: func(r *DraftRequest) { r.Limit = models.NewSpecLimit(102, 98) }},
		{name: "unknown section", mutate: func(r *DraftRequest) { r.Sections = []string{"Cover Letter"} }},
		{name: "no user", mutate: func(r *DraftRequest) { r.User = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReportFixture(t)
			req := draftRequest()
			tt.mutate(&req)

			_, err := f.svc.GenerateDraft(context.Background(), req)

			assert.True(t, errors.Is(err, apperrors.ErrInvalidInput), "got %v", err)
		})
	}
}

func TestReportService_SignAndLock(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()
	draft, err := f.svc.GenerateDraft(ctx, draftRequest())
	require.NoError(t, err)

	final, err := f.svc.SignAndLock(ctx, draft.RequestID, models.SigningReasonQAFinalApproval, "qa.lead", signerSecret)

	require.NoError(t, err)
	require.NoError(t, final.Validate())
	assert.Equal(t, "VERITAS_VX-101_FINAL.html", final.Filename)
	assert.Equal(t, "qa.lead", final.Signature.User)
	assert.NotContains(t, string(final.Payload), `class="watermark"`)
	assert.Contains(t, string(final.Payload), render.SignatureTitle)
	assert.Contains(t, string(final.Payload), render.SignatureStatement)

	sigs, err := f.ledger.Signatures(ctx)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, draft.RequestID, sigs[0].RecordIDValue())
	assert.Contains(t, sigs[0].Details, "QA Final Approval")

	_, err = f.svc.SignAndLock(ctx, draft.RequestID, models.SigningReasonQAFinalApproval, "qa.lead", signerSecret)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
	assert.Equal(t, 1, f.signatureCount(t))
}

func TestReportService_SignAndLockUnknownDraft(t *testing.T) {
	f := newReportFixture(t)

	_, err := f.svc.SignAndLock(context.Background(), "missing", models.SigningReasonAuthorApproval, "qa.lead", signerSecret)

	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestReportService_SignAndLockInvalidReason(t *testing.T) {
	f := newReportFixture(t)
	draft, err := f.svc.GenerateDraft(context.Background(), draftRequest())
	require.NoError(t, err)

	_, err = f.svc.SignAndLock(context.Background(), draft.RequestID, "Because", "qa.lead", signerSecret)

	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestReportService_SignAndLockBadCredential(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()
	draft, err := f.svc.GenerateDraft(ctx, draftRequest())
	require.NoError(t, err)

	_, err = f.svc.SignAndLock(ctx, draft.RequestID, models.SigningReasonAuthorApproval, "qa.lead", "wrong")

	assert.True(t, errors.Is(err, apperrors.ErrAuthenticationFailed))
	assert.Zero(t, f.signatureCount(t))
	assert.Equal(t, 1, f.logs.FilterMessage("E-signature authentication failed").Len())

	// The draft is still signable.
	_, err = f.svc.SignAndLock(ctx, draft.RequestID, models.SigningReasonAuthorApproval, "qa.lead", signerSecret)
	require.NoError(t, err)
	assert.Equal(t, 1, f.signatureCount(t))
}

func TestReportService_SignAndLockRestoresOnFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *reportFixture)
	}{
		{
			name: "render fails",
			setup: func(f *reportFixture) {
				f.render.failFn = func(doc render.Document) error {
					if doc.Signature != nil {
						return errors.New("chromium crashed")
					}
					return nil
				}
			},
		},
		{
			name: "ledger append fails",
			setup: func(f *reportFixture) {
				f.fake.appendFn = func(ctx context.Context, user, action string, recordID *string, details string) (*models.AuditEntry, error) {
					return nil, errors.New("disk full")
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReportFixture(t)
			ctx := context.Background()
			draft, err := f.svc.GenerateDraft(ctx, draftRequest())
			require.NoError(t, err)
			tt.setup(f)

			_, err = f.svc.SignAndLock(ctx, draft.RequestID, models.SigningReasonTechnicalReview, "qa.lead", signerSecret)

			require.Error(t, err)
			_, err = f.svc.Pending(ctx, draft.RequestID)
			assert.NoError(t, err, "draft should be back in the store")
		})
	}
}

func TestReportService_ConcurrentSigners(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newReportFixture(t)
	ctx := context.Background()
	draft, err := f.svc.GenerateDraft(ctx, draftRequest())
	require.NoError(t, err)

	const signers = 6
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		signed int
	)
	for i := 0; i < signers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SignAndLock(ctx, draft.RequestID, models.SigningReasonQAFinalApproval, "qa.lead", signerSecret)
			if err == nil {
				mu.Lock()
				signed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, signed)
	assert.Equal(t, 1, f.signatureCount(t))
}

func TestReportService_SlidesLayout(t *testing.T) {
	f := newReportFixture(t)
	req := draftRequest()
	req.Format = models.ReportFormatSlides

	draft, err := f.svc.GenerateDraft(context.Background(), req)

	require.NoError(t, err)
	assert.Contains(t, string(draft.Payload), "VERITAS Automated Study Report")
	assert.Contains(t, string(draft.Payload), `class="slide title-slide"`)
}
