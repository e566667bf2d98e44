package models

import (
	"fmt"
	"strconv"
)

// IssueKind classifies a QC discrepancy.
type IssueKind string

const (
	IssueMissingValue       IssueKind = "Missing Value"
	IssueImpossibleValue    IssueKind = "Impossible Value"
	IssueOutOfSpecification IssueKind = "Out of Specification"
)

// Discrepancy is a single QC finding. It is transient: used to build a
// deviation or shown to the analyst, never stored on its own.
type Discrepancy struct {
	SampleID string    `json:"sample_id"`
	Issue    IssueKind `json:"issue"`
	Details  string    `json:"details"`
}

// SpecLimit is a specification range. Either bound may be absent for a
// single-sided specification.
type SpecLimit struct {
	Lower *float64 `json:"lsl,omitempty" yaml:"lsl"`
	Upper *float64 `json:"usl,omitempty" yaml:"usl"`
}

// NewSpecLimit builds a two-sided limit.
func NewSpecLimit(lower, upper float64) SpecLimit {
	return SpecLimit{Lower: &lower, Upper: &upper}
}

// LowerOnly builds a limit with only a lower bound.
func LowerOnly(lower float64) SpecLimit {
	return SpecLimit{Lower: &lower}
}

// UpperOnly builds a limit with only an upper bound.
func UpperOnly(upper float64) SpecLimit {
	return SpecLimit{Upper: &upper}
}

// Validate enforces lower < upper when both bounds are present.
func (l SpecLimit) Validate() error {
	if l.Lower != nil && l.Upper != nil && *l.Lower >= *l.Upper {
		return fmt.Errorf("lower spec limit %v must be below upper spec limit %v", *l.Lower, *l.Upper)
	}
	return nil
}

// Violated reports whether v lies outside the limit.
func (l SpecLimit) Violated(v float64) bool {
	if l.Lower != nil && v < *l.Lower {
		return true
	}
	if l.Upper != nil && v > *l.Upper {
		return true
	}
	return false
}

// String renders the limit as "LSL: 98, USL: 102" with "none" for absent bounds.
func (l SpecLimit) String() string {
	return fmt.Sprintf("LSL: %s, USL: %s", boundString(l.Lower), boundString(l.Upper))
}

func boundString(b *float64) string {
	if b == nil {
		return "none"
	}
	return strconv.FormatFloat(*b, 'g', -1, 64)
}

// CQASpec binds a critical quality attribute to its specification.
type CQASpec struct {
	CQA   string    `json:"cqa" yaml:"cqa"`
	Limit SpecLimit `json:"limit" yaml:"limit"`
}

// SpecLimits is an ordered set of CQA specifications. Order is preserved so
// rule evaluation is deterministic.
type SpecLimits []CQASpec

// Lookup returns the limit configured for cqa.
func (s SpecLimits) Lookup(cqa string) (SpecLimit, bool) {
	for _, c := range s {
		if c.CQA == cqa {
			return c.Limit, true
		}
	}
	return SpecLimit{}, false
}

// Validate checks every limit and rejects duplicate CQAs.
func (s SpecLimits) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, c := range s {
		if c.CQA == "" {
			return fmt.Errorf("spec limit with empty CQA name")
		}
		if seen[c.CQA] {
			return fmt.Errorf("spec limit for %q listed twice", c.CQA)
		}
		seen[c.CQA] = true
		if err := c.Limit.Validate(); err != nil {
			return fmt.Errorf("%s: %w", c.CQA, err)
		}
	}
	return nil
}
