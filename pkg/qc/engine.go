// Package qc evaluates tabular lab data against deterministic quality rules.
package qc

import (
	"fmt"
	"strings"

	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/models"
)

// SampleIDColumn identifies each row in discrepancy reports.
const SampleIDColumn = "sample_id"

// Rule is one of the closed set of QC checks.
type Rule string

const (
	MissingValueCheck  Rule = "check_nulls"
	NegativeValueCheck Rule = "check_negatives"
	SpecLimitCheck     Rule = "check_spec_limits"
)

// ruleOrder is the fixed evaluation order. Output is grouped by rule in this order.
var ruleOrder = []Rule{MissingValueCheck, NegativeValueCheck, SpecLimitCheck}

// AllRules returns every rule in evaluation order.
func AllRules() RuleSet {
	return NewRuleSet(ruleOrder...)
}

// IsValid reports whether r is a known rule.
func (r Rule) IsValid() bool {
	for _, k := range ruleOrder {
		if r == k {
			return true
		}
	}
	return false
}

// ParseRule converts a rule name into a Rule.
func ParseRule(s string) (Rule, error) {
	r := Rule(strings.TrimSpace(s))
	if !r.IsValid() {
		return "", fmt.Errorf("unknown QC rule %q: %w", s, apperrors.ErrInvalidInput)
	}
	return r, nil
}

// RuleSet is the set of enabled rules.
type RuleSet map[Rule]bool

// NewRuleSet enables the given rules.
func NewRuleSet(rules ...Rule) RuleSet {
	s := make(RuleSet, len(rules))
	for _, r := range rules {
		s[r] = true
	}
	return s
}

// Has reports whether r is enabled.
func (s RuleSet) Has(r Rule) bool {
	return s[r]
}

// Config carries the column roles and limits the rules check against.
type Config struct {
	// CriticalColumns must never be null. Columns absent from the table are ignored.
	CriticalColumns []string
	// ActivityColumn holds a quantity that cannot be negative.
	ActivityColumn string
	// SpecLimits are checked in configuration order.
	SpecLimits models.SpecLimits
}

// Evaluate runs every enabled rule over table and returns the discrepancies
// ordered by rule, then CQA configuration order, then row order. The table
// must have a sample_id column, and the columns the enabled rules read as
// numbers may hold only numbers or nulls.
func Evaluate(table *models.Table, rules RuleSet, cfg Config) ([]models.Discrepancy, error) {
	if table == nil {
		return nil, fmt.Errorf("qc: nil table: %w", apperrors.ErrInvalidInput)
	}
	if !table.HasColumn(SampleIDColumn) {
		return nil, fmt.Errorf("qc: table %q must contain a %q column: %w", table.Name, SampleIDColumn, apperrors.ErrInvalidInput)
	}
	for r := range rules {
		if !r.IsValid() {
			return nil, fmt.Errorf("qc: unknown rule %q: %w", r, apperrors.ErrInvalidInput)
		}
	}
	if err := table.RequireNumeric(numericColumns(rules, cfg)...); err != nil {
		return nil, fmt.Errorf("qc: %v: %w", err, apperrors.ErrInvalidInput)
	}

	var out []models.Discrepancy
	for _, r := range ruleOrder {
		if !rules.Has(r) {
			continue
		}
		switch r {
		case MissingValueCheck:
			out = append(out, checkMissing(table, cfg.CriticalColumns)...)
		case NegativeValueCheck:
			out = append(out, checkNegative(table, cfg.ActivityColumn)...)
		case SpecLimitCheck:
			out = append(out, checkSpecLimits(table, cfg.SpecLimits)...)
		}
	}
	return out, nil
}

// numericColumns lists the columns the enabled rules read as numbers.
func numericColumns(rules RuleSet, cfg Config) []string {
	var cols []string
	if rules.Has(NegativeValueCheck) && cfg.ActivityColumn != "" {
		cols = append(cols, cfg.ActivityColumn)
	}
	if rules.Has(SpecLimitCheck) {
		for _, spec := range cfg.SpecLimits {
			cols = append(cols, spec.CQA)
		}
	}
	return cols
}

func checkMissing(table *models.Table, critical []string) []models.Discrepancy {
	var cols []string
	for _, c := range critical {
		if table.HasColumn(c) {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return nil
	}

	var out []models.Discrepancy
	for _, row := range table.Rows {
		var nulls []string
		for _, c := range cols {
			if row.IsNull(c) {
				nulls = append(nulls, c)
			}
		}
		if len(nulls) > 0 {
			out = append(out, models.Discrepancy{
				SampleID: row.String(SampleIDColumn),
				Issue:    models.IssueMissingValue,
				Details:  "Null in critical column(s): " + strings.Join(nulls, ", "),
			})
		}
	}
	return out
}

func checkNegative(table *models.Table, col string) []models.Discrepancy {
	if col == "" || !table.HasColumn(col) {
		return nil
	}
	var out []models.Discrepancy
	for _, row := range table.Rows {
		v, ok := row.Float(col)
		if ok && v < 0 {
			out = append(out, models.Discrepancy{
				SampleID: row.String(SampleIDColumn),
				Issue:    models.IssueImpossibleValue,
				Details:  fmt.Sprintf("%s is %.2f, which is impossible.", col, v),
			})
		}
	}
	return out
}

func checkSpecLimits(table *models.Table, limits models.SpecLimits) []models.Discrepancy {
	var out []models.Discrepancy
	for _, spec := range limits {
		if !table.HasColumn(spec.CQA) {
			continue
		}
		for _, row := range table.Rows {
			v, ok := row.Float(spec.CQA)
			if !ok {
				continue
			}
			if spec.Limit.Violated(v) {
				out = append(out, models.Discrepancy{
					SampleID: row.String(SampleIDColumn),
					Issue:    models.IssueOutOfSpecification,
					Details: fmt.Sprintf("CQA '%s' value of %.2f is outside spec limits (%s).",
						spec.CQA, v, spec.Limit),
				})
			}
		}
	}
	return out
}

// FirstPassRate is the fraction of rows whose sample has no discrepancy.
// An empty table yields 1.
func FirstPassRate(table *models.Table, discrepancies []models.Discrepancy) float64 {
	if table == nil || len(table.Rows) == 0 {
		return 1
	}
	flagged := make(map[string]bool, len(discrepancies))
	for _, d := range discrepancies {
		flagged[d.SampleID] = true
	}
	passed := 0
	for _, row := range table.Rows {
		if !flagged[row.String(SampleIDColumn)] {
			passed++
		}
	}
	return float64(passed) / float64(len(table.Rows))
}
