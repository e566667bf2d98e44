package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysisHandler_CapabilitySummary(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/analysis/hplc/capability", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var rows []struct {
		CQA string   `json:"cqa"`
		Cpk *float64 `json:"cpk"`
	}
	decodeData(t, rec, &rows)
	require.Len(t, rows, 3)
	assert.Equal(t, "purity", rows[0].CQA)
	assert.Equal(t, "main_impurity", rows[1].CQA)
	assert.Equal(t, "bio_activity", rows[2].CQA)
	for _, r := range rows {
		assert.NotNil(t, r.Cpk, r.CQA)
	}
}

func TestAnalysisHandler_Capability(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/analysis/hplc/capability/bio_activity", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var row struct {
		CQA     string `json:"cqa"`
		Summary struct {
			Count int `json:"count"`
		} `json:"summary"`
	}
	decodeData(t, rec, &row)
	assert.Equal(t, "bio_activity", row.CQA)
	assert.Equal(t, 5, row.Summary.Count)
}

func TestAnalysisHandler_CapabilityUnknownColumn(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/analysis/hplc/capability/ph", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalysisHandler_Compare(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/analysis/groups/compare?value=value&group=instrument", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Groups []string `json:"groups"`
		ANOVA  struct {
			Sufficient bool     `json:"sufficient"`
			PValue     *float64 `json:"p_value"`
		} `json:"anova"`
		Tukey struct {
			Pairs []struct {
				Group1 string `json:"group1"`
				Group2 string `json:"group2"`
				Reject bool   `json:"reject"`
			} `json:"pairs"`
		} `json:"tukey"`
	}
	decodeData(t, rec, &resp)
	assert.Equal(t, []string{"HPLC-1", "HPLC-2", "HPLC-3"}, resp.Groups)
	require.True(t, resp.ANOVA.Sufficient)
	require.NotNil(t, resp.ANOVA.PValue)
	assert.Less(t, *resp.ANOVA.PValue, 0.05)
	require.Len(t, resp.Tukey.Pairs, 3)
	for _, p := range resp.Tukey.Pairs {
		shifted := p.Group1 == "HPLC-2" || p.Group2 == "HPLC-2"
		assert.Equal(t, shifted, p.Reject, "%s vs %s", p.Group1, p.Group2)
	}
}

func TestAnalysisHandler_ANOVAAndTukey(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/analysis/groups/anova?value=value&group=instrument", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var anova ANOVAResponse
	decodeData(t, rec, &anova)
	assert.Equal(t, 3, anova.Groups)
	assert.Equal(t, 12, anova.N)

	rec = api.do(t, http.MethodGet, "/api/analysis/groups/tukey?value=value&group=instrument", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tukey TukeyResponse
	decodeData(t, rec, &tukey)
	assert.False(t, tukey.Skipped)
	assert.Len(t, tukey.Pairs, 3)
}

func TestAnalysisHandler_TukeySkippedForTwoGroups(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/analysis/pairs/compare?value=value&group=instrument", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ANOVA struct {
			PValue *float64 `json:"p_value"`
		} `json:"anova"`
		Tukey TukeyResponse `json:"tukey"`
	}
	decodeData(t, rec, &resp)
	require.NotNil(t, resp.ANOVA.PValue)
	assert.Less(t, *resp.ANOVA.PValue, 0.05)
	assert.True(t, resp.Tukey.Skipped)
	assert.Contains(t, resp.Tukey.Reason, "more than 2 groups")
	assert.Empty(t, resp.Tukey.Pairs)
}

func TestAnalysisHandler_GroupParamsRequired(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/analysis/groups/anova?value=value", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_group", decodeError(t, rec))
}

func TestAnalysisHandler_Stability(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/analysis/stability/stability/purity/poolability", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pool struct {
		Lots int `json:"lots"`
		N    int `json:"n"`
	}
	decodeData(t, rec, &pool)
	assert.Equal(t, 2, pool.Lots)
	assert.Equal(t, 6, pool.N)

	rec = api.do(t, http.MethodGet, "/api/analysis/stability/stability/purity/trend", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var lot struct {
		Sufficient bool     `json:"sufficient"`
		Lot        string   `json:"lot"`
		N          int      `json:"n"`
		Slope      *float64 `json:"slope"`
	}
	decodeData(t, rec, &lot)
	assert.True(t, lot.Sufficient)
	assert.Equal(t, "L1", lot.Lot)
	assert.Equal(t, 3, lot.N)
	require.NotNil(t, lot.Slope)
	assert.Less(t, *lot.Slope, 0.0)

	rec = api.do(t, http.MethodGet, "/api/analysis/stability/stability/purity/trend?pooled=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pooled struct {
		Pooled bool `json:"pooled"`
		N      int  `json:"n"`
	}
	decodeData(t, rec, &pooled)
	assert.True(t, pooled.Pooled)
	assert.Equal(t, 6, pooled.N)
}

func TestAnalysisHandler_TrendRejectsBadPooledFlag(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/analysis/stability/stability/purity/trend?pooled=maybe", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_pooled", decodeError(t, rec))
}

func TestAnalysisHandler_Anomalies(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/analysis/hplc/anomalies", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Features []string `json:"features"`
		Points   []struct {
			Label int `json:"label"`
		} `json:"points"`
		Excluded int `json:"excluded"`
	}
	decodeData(t, rec, &resp)
	assert.Equal(t, []string{"purity", "bio_activity", "main_impurity"}, resp.Features)
	assert.Len(t, resp.Points, 4)
	assert.Equal(t, 1, resp.Excluded, "S-002 has no purity")
}

func TestAnalysisHandler_AnomaliesRejectsContamination(t *testing.T) {
	api := newTestAPI(t)

	for _, c := range []float64{0, 0.6} {
		rec := api.do(t, http.MethodPost, "/api/analysis/hplc/anomalies", AnomalyRequest{Contamination: &c})

		assert.Equal(t, http.StatusBadRequest, rec.Code, "contamination %v", c)
		assert.Equal(t, "invalid_parameter", decodeError(t, rec))
	}
}

func TestAnalysisHandler_AnomaliesRequireThreeDistinctFeatures(t *testing.T) {
	api := newTestAPI(t)

	for _, features := range [][]string{
		{"purity", "bio_activity"},
		{"purity", "purity", "bio_activity"},
	} {
		rec := api.do(t, http.MethodPost, "/api/analysis/hplc/anomalies", AnomalyRequest{Features: features})

		assert.Equal(t, http.StatusBadRequest, rec.Code, "%v", features)
		assert.Equal(t, "invalid_input", decodeError(t, rec))
	}
}

func TestAnalysisHandler_UnknownDataset(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/analysis/lims/capability", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
