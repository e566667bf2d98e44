package models

import (
	"errors"
	"fmt"
	"time"
)

// ArtifactKind distinguishes watermarked drafts from signed finals.
type ArtifactKind string

const (
	ArtifactKindDraft ArtifactKind = "Draft"
	ArtifactKindFinal ArtifactKind = "Final"
)

// ReportFormat is the output layout of a report artifact.
type ReportFormat string

const (
	ReportFormatPDF    ReportFormat = "PDF"
	ReportFormatSlides ReportFormat = "Slides"
)

// IsValid returns true for the supported formats.
func (f ReportFormat) IsValid() bool {
	return f == ReportFormatPDF || f == ReportFormatSlides
}

// SigningReason is the meaning attached to an electronic signature.
type SigningReason string

const (
	SigningReasonAuthorApproval  SigningReason = "Author Approval"
	SigningReasonTechnicalReview SigningReason = "Technical Review"
	SigningReasonQAFinalApproval SigningReason = "QA Final Approval"
)

// ValidSigningReasons lists the accepted reasons in display order.
var ValidSigningReasons = []SigningReason{
	SigningReasonAuthorApproval,
	SigningReasonTechnicalReview,
	SigningReasonQAFinalApproval,
}

// IsValid returns true for one of ValidSigningReasons.
func (r SigningReason) IsValid() bool {
	for _, v := range ValidSigningReasons {
		if r == v {
			return true
		}
	}
	return false
}

// Signature is the electronic signature block embedded in a final artifact.
type Signature struct {
	User      string        `json:"user"`
	Timestamp time.Time     `json:"timestamp"`
	Reason    SigningReason `json:"reason"`
}

// ReportArtifact is a rendered report, either a draft or a signed final.
type ReportArtifact struct {
	Kind      ArtifactKind `json:"kind"`
	RequestID string       `json:"request_id"`
	StudyID   string       `json:"study_id"`
	Format    ReportFormat `json:"format"`
	Filename  string       `json:"filename"`
	MIMEType  string       `json:"mime_type"`
	Payload   []byte       `json:"payload"`
	Watermark string       `json:"watermark,omitempty"`
	Signature *Signature   `json:"signature,omitempty"`
}

// Validate enforces that a final carries exactly one signature and no
// watermark, and a draft carries a watermark and no signature.
func (a *ReportArtifact) Validate() error {
	switch a.Kind {
	case ArtifactKindFinal:
		if a.Signature == nil {
			return errors.New("final artifact has no signature")
		}
		if a.Watermark != "" {
			return errors.New("final artifact carries a draft watermark")
		}
	case ArtifactKindDraft:
		if a.Signature != nil {
			return errors.New("draft artifact carries a signature")
		}
		if a.Watermark == "" {
			return errors.New("draft artifact has no watermark")
		}
	default:
		return fmt.Errorf("unknown artifact kind %q", a.Kind)
	}
	return nil
}

// ReportFilename builds VERITAS_<study>_<DRAFT|FINAL>.<ext>.
func ReportFilename(studyID string, kind ArtifactKind, ext string) string {
	stage := "DRAFT"
	if kind == ArtifactKindFinal {
		stage = "FINAL"
	}
	return fmt.Sprintf("VERITAS_%s_%s.%s", studyID, stage, ext)
}

// SummaryStats is the descriptive statistics block shown in reports.
type SummaryStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Max    float64 `json:"max"`
}

// Report sections a caller may request.
const (
	ReportSectionSummary    = "Summary Statistics"
	ReportSectionCapability = "Capability Analysis"
	ReportSectionAppendix   = "Full Dataset Appendix"
)

// DraftData is the unwatermarked source a draft was rendered from.
// Signing re-renders from this value, never from the draft bytes.
type DraftData struct {
	RequestID  string       `json:"request_id"`
	StudyID    string       `json:"study_id"`
	Format     ReportFormat `json:"format"`
	CQA        string       `json:"cqa"`
	Limit      SpecLimit    `json:"limit"`
	Data       *Table       `json:"data"`
	Commentary string       `json:"commentary"`
	Sections   []string     `json:"sections"`
	Cpk        float64      `json:"cpk"`
	Summary    SummaryStats `json:"summary"`
	CreatedBy  string       `json:"created_by"`
	CreatedAt  time.Time    `json:"created_at"`
}

// HasSection reports whether the draft requested the named section.
func (d *DraftData) HasSection(name string) bool {
	for _, s := range d.Sections {
		if s == name {
			return true
		}
	}
	return false
}
