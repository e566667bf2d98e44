package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-qms/veritas-engine/pkg/models"
	"github.com/veritas-qms/veritas-engine/pkg/services"
)

func TestQCHandler_EvaluateDataset(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/qc/hplc", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var report services.QCReport
	decodeData(t, rec, &report)
	assert.Equal(t, "hplc", report.Dataset)
	assert.Equal(t, 5, report.Rows)
	require.Len(t, report.Discrepancies, 2)
	assert.Equal(t, models.IssueMissingValue, report.Discrepancies[0].Issue)
	assert.Equal(t, "S-002", report.Discrepancies[0].SampleID)
	assert.Equal(t, models.IssueOutOfSpecification, report.Discrepancies[1].Issue)
	assert.Equal(t, "S-003", report.Discrepancies[1].SampleID)
	assert.InDelta(t, 0.6, report.FirstPassRate, 1e-9)
}

func TestQCHandler_EvaluateDatasetSelectedRules(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/qc/hplc?rule=check_nulls", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var report services.QCReport
	decodeData(t, rec, &report)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, models.IssueMissingValue, report.Discrepancies[0].Issue)
}

func TestQCHandler_Errors(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCode   string
	}{
		{"unknown rule", "/api/qc/hplc?rule=check_vibes", http.StatusBadRequest, "invalid_input"},
		{"unknown dataset", "/api/qc/lims", http.StatusNotFound, "not_found"},
		{"no sample id column", "/api/qc/groups", http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec))
		})
	}
}

func TestQCHandler_EvaluateTable(t *testing.T) {
	api := newTestAPI(t)
	table := &models.Table{
		Name:    "upload",
		Columns: []string{"sample_id", "bio_activity"},
		Rows: []models.Row{
			{"sample_id": "U-1", "bio_activity": 100.0},
			{"sample_id": "U-2", "bio_activity": -4.0},
		},
	}

	rec := api.do(t, http.MethodPost, "/api/qc", EvaluateTableRequest{Table: table, Rules: []string{"check_negatives"}})

	require.Equal(t, http.StatusOK, rec.Code)
	var report services.QCReport
	decodeData(t, rec, &report)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, models.IssueImpossibleValue, report.Discrepancies[0].Issue)
	assert.Equal(t, "U-2", report.Discrepancies[0].SampleID)
}

func TestQCHandler_EvaluateTableRequiresTable(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/qc", EvaluateTableRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_table", decodeError(t, rec))
}
