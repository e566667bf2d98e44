package analytics

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/models"
)

// Anomaly labels.
const (
	LabelInlier  = 1
	LabelAnomaly = -1
)

// AnomalyPoint is the verdict for one table row that had all features.
type AnomalyPoint struct {
	Row      int       `json:"row"`
	Features []float64 `json:"features"`
	Score    float64   `json:"score"`
	Label    int       `json:"label"`
}

// AnomalyResult labels every complete row of the input table. Rows with a
// null feature are excluded and do not appear in Points.
type AnomalyResult struct {
	Sufficient    bool           `json:"sufficient"`
	Reason        string         `json:"reason,omitempty"`
	Features      []string       `json:"features"`
	Contamination float64        `json:"contamination"`
	Threshold     float64        `json:"threshold"`
	Points        []AnomalyPoint `json:"points"`
	Anomalies     int            `json:"anomalies"`
	Excluded      int            `json:"excluded"`
}

// DetectAnomalies fits an isolation forest over the given feature columns
// and labels each complete row +1 (inlier) or -1 (anomaly). The contamination
// fraction, strictly between 0 and 0.5, sets the score threshold. A fixed
// seed gives identical labels on identical input.
func DetectAnomalies(table *models.Table, features []string, contamination float64, seed int64) (AnomalyResult, error) {
	if !(contamination > 0 && contamination < 0.5) {
		return AnomalyResult{}, fmt.Errorf("contamination %v must lie strictly between 0 and 0.5: %w",
			contamination, apperrors.ErrInvalidParameter)
	}
	if table == nil {
		return AnomalyResult{}, fmt.Errorf("anomaly detection: nil table: %w", apperrors.ErrInvalidInput)
	}
	if len(features) == 0 {
		return AnomalyResult{}, fmt.Errorf("anomaly detection: no features selected: %w", apperrors.ErrInvalidInput)
	}
	if err := table.RequireColumns(features...); err != nil {
		return AnomalyResult{}, fmt.Errorf("anomaly detection: %v: %w", err, apperrors.ErrInvalidInput)
	}
	if err := table.RequireNumeric(features...); err != nil {
		return AnomalyResult{}, fmt.Errorf("anomaly detection: %v: %w", err, apperrors.ErrInvalidInput)
	}

	res := AnomalyResult{
		Features:      append([]string(nil), features...),
		Contamination: contamination,
	}

	var data [][]float64
	var rows []int
	for i, row := range table.Rows {
		vec := make([]float64, len(features))
		complete := true
		for j, col := range features {
			v, ok := row.Float(col)
			if !ok {
				complete = false
				break
			}
			vec[j] = v
		}
		if !complete {
			res.Excluded++
			continue
		}
		data = append(data, vec)
		rows = append(rows, i)
	}
	if len(data) < 2 {
		res.Reason = "Insufficient data (need >= 2 complete rows)."
		return res, nil
	}

	rng := rand.New(rand.NewPCG(uint64(seed), 0x5eed))
	forest := FitIsolationForest(data, DefaultTrees, DefaultMaxSamples, rng)

	// Decision scores are negated anomaly scores; the contamination
	// percentile of them becomes the threshold.
	decision := make([]float64, len(data))
	for i, x := range data {
		decision[i] = -forest.Score(x)
	}
	sorted := append([]float64(nil), decision...)
	sort.Float64s(sorted)
	res.Threshold = percentile(sorted, 100*contamination)

	for i, x := range data {
		label := LabelInlier
		if decision[i] < res.Threshold {
			label = LabelAnomaly
			res.Anomalies++
		}
		res.Points = append(res.Points, AnomalyPoint{
			Row:      rows[i],
			Features: x,
			Score:    -decision[i],
			Label:    label,
		})
	}
	res.Sufficient = true
	return res, nil
}
