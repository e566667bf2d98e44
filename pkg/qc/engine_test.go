package qc

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/models"
)

func purityTable() *models.Table {
	return &models.Table{
		Name:    "hplc",
		Columns: []string{"sample_id", "purity"},
		Rows: []models.Row{
			{"sample_id": "S-001", "purity": 99.5},
			{"sample_id": "S-002", "purity": nil},
			{"sample_id": "S-003", "purity": 150.0},
			{"sample_id": "S-004", "purity": 100.1},
			{"sample_id": "S-005", "purity": 98.7},
		},
	}
}

func defaultConfig() Config {
	return Config{
		CriticalColumns: []string{"purity", "main_impurity", "bio_activity"},
		ActivityColumn:  "bio_activity",
		SpecLimits: models.SpecLimits{
			{CQA: "purity", Limit: models.NewSpecLimit(98, 102)},
			{CQA: "main_impurity", Limit: models.NewSpecLimit(0, 0.5)},
			{CQA: "bio_activity", Limit: models.NewSpecLimit(90, 110)},
		},
	}
}

func TestEvaluate_PurityScenario(t *testing.T) {
	got, err := Evaluate(purityTable(), NewRuleSet(MissingValueCheck, SpecLimitCheck), defaultConfig())

	require.NoError(t, err)
	want := []models.Discrepancy{
		{SampleID: "S-002", Issue: models.IssueMissingValue, Details: "Null in critical column(s): purity"},
		{SampleID: "S-003", Issue: models.IssueOutOfSpecification, Details: "CQA 'purity' value of 150.00 is outside spec limits (LSL: 98, USL: 102)."},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("discrepancies mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	table := &models.Table{
		Name:    "hplc",
		Columns: []string{"sample_id", "purity", "main_impurity", "bio_activity"},
		Rows: []models.Row{
			{"sample_id": "A", "purity": 97.0, "main_impurity": 0.9, "bio_activity": -4.0},
			{"sample_id": "B", "purity": nil, "main_impurity": nil, "bio_activity": 95.0},
			{"sample_id": "C", "purity": 103.0, "main_impurity": 0.1, "bio_activity": 120.0},
		},
	}

	first, err := Evaluate(table, AllRules(), defaultConfig())
	require.NoError(t, err)
	for range 20 {
		again, err := Evaluate(table, AllRules(), defaultConfig())
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("evaluation not deterministic (-first +again):\n%s", diff)
		}
	}

	// Rule-major, then CQA order, then row order.
	var order []string
	for _, d := range first {
		order = append(order, string(d.Issue)+"/"+d.SampleID)
	}
	assert.Equal(t, []string{
		"Missing Value/B",
		"Impossible Value/A",
		"Out of Specification/A", // purity
		"Out of Specification/C", // purity
		"Out of Specification/A", // main_impurity
		"Out of Specification/A", // bio_activity
		"Out of Specification/C", // bio_activity
	}, order)
	assert.Equal(t, "Null in critical column(s): purity, main_impurity", first[0].Details)
	assert.Equal(t, "bio_activity is -4.00, which is impossible.", first[1].Details)
}

func TestEvaluate_OneSidedLimits(t *testing.T) {
	table := &models.Table{
		Name:    "stability",
		Columns: []string{"sample_id", "purity", "main_impurity"},
		Rows: []models.Row{
			{"sample_id": "S1", "purity": 97.5, "main_impurity": 0.2},
			{"sample_id": "S2", "purity": 120.0, "main_impurity": 0.8},
			{"sample_id": "S3", "purity": 99.0, "main_impurity": -3.0},
		},
	}
	cfg := Config{SpecLimits: models.SpecLimits{
		{CQA: "purity", Limit: models.LowerOnly(98)},
		{CQA: "main_impurity", Limit: models.UpperOnly(0.75)},
	}}

	got, err := Evaluate(table, NewRuleSet(SpecLimitCheck), cfg)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "S1", got[0].SampleID)
	assert.Equal(t, "S2", got[1].SampleID)
	assert.Contains(t, got[0].Details, "LSL: 98, USL: none")
}

func TestEvaluate_RulesSkippedWhenColumnsAbsent(t *testing.T) {
	table := &models.Table{
		Name:    "other",
		Columns: []string{"sample_id", "ph"},
		Rows:    []models.Row{{"sample_id": "S1", "ph": nil}},
	}

	got, err := Evaluate(table, AllRules(), defaultConfig())

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEvaluate_NoRulesNoFindings(t *testing.T) {
	got, err := Evaluate(purityTable(), NewRuleSet(), defaultConfig())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEvaluate_MissingSampleID(t *testing.T) {
	table := &models.Table{Name: "bad", Columns: []string{"purity"}}

	_, err := Evaluate(table, AllRules(), defaultConfig())

	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestEvaluate_UnknownRule(t *testing.T) {
	_, err := Evaluate(purityTable(), RuleSet{"check_everything": true}, defaultConfig())
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestEvaluate_NonNumericCellRejected(t *testing.T) {
	table := purityTable()
	table.Rows[3]["purity"] = "n/a"

	_, err := Evaluate(table, NewRuleSet(SpecLimitCheck), defaultConfig())

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Contains(t, err.Error(), `"purity"`)
}

func TestEvaluate_NonNumericActivityRejected(t *testing.T) {
	table := &models.Table{
		Name:    "bio",
		Columns: []string{"sample_id", "bio_activity"},
		Rows: []models.Row{
			{"sample_id": "S-001", "bio_activity": 95.0},
			{"sample_id": "S-002", "bio_activity": "high"},
		},
	}

	_, err := Evaluate(table, NewRuleSet(NegativeValueCheck), Config{ActivityColumn: "bio_activity"})

	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestEvaluate_NonNumericIgnoredWhenRuleDisabled(t *testing.T) {
	table := purityTable()
	table.Rows[3]["purity"] = "n/a"

	got, err := Evaluate(table, NewRuleSet(MissingValueCheck), defaultConfig())

	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestParseRule(t *testing.T) {
	r, err := ParseRule(" check_nulls ")
	require.NoError(t, err)
	assert.Equal(t, MissingValueCheck, r)

	_, err = ParseRule("check_magic")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestFirstPassRate(t *testing.T) {
	table := purityTable()
	discs, err := Evaluate(table, AllRules(), defaultConfig())
	require.NoError(t, err)

	assert.InDelta(t, 0.6, FirstPassRate(table, discs), 1e-12)
	assert.Equal(t, 1.0, FirstPassRate(&models.Table{}, nil))
}
