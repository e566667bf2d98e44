package analytics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat"

	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/models"
)

// Partition is a numeric column grouped by a categorical column. ANOVA and
// Tukey HSD both consume a Partition so they always see the same rows.
type Partition struct {
	ValueColumn string      `json:"value_column"`
	GroupColumn string      `json:"group_column"`
	Labels      []string    `json:"labels"`
	Groups      [][]float64 `json:"groups"`
}

// Total is the number of observations across all groups.
func (p Partition) Total() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g)
	}
	return n
}

// NewPartition groups valueCol by groupCol, dropping rows null in either column.
// Groups are ordered by label.
func NewPartition(table *models.Table, valueCol, groupCol string) (Partition, error) {
	if table == nil {
		return Partition{}, fmt.Errorf("partition: nil table: %w", apperrors.ErrInvalidInput)
	}
	if err := table.RequireColumns(valueCol, groupCol); err != nil {
		return Partition{}, fmt.Errorf("partition: %v: %w", err, apperrors.ErrInvalidInput)
	}
	if err := table.RequireNumeric(valueCol); err != nil {
		return Partition{}, fmt.Errorf("partition: %v: %w", err, apperrors.ErrInvalidInput)
	}

	byLabel := make(map[string][]float64)
	for _, row := range table.Rows {
		v, ok := row.Float(valueCol)
		if !ok || row.IsNull(groupCol) {
			continue
		}
		label := row.String(groupCol)
		byLabel[label] = append(byLabel[label], v)
	}

	p := Partition{ValueColumn: valueCol, GroupColumn: groupCol}
	for label := range byLabel {
		p.Labels = append(p.Labels, label)
	}
	sort.Strings(p.Labels)
	for _, label := range p.Labels {
		p.Groups = append(p.Groups, byLabel[label])
	}
	return p, nil
}

// ANOVAResult is the outcome of a one-way analysis of variance.
type ANOVAResult struct {
	Sufficient bool    `json:"sufficient"`
	Reason     string  `json:"reason,omitempty"`
	Groups     int     `json:"groups"`
	N          int     `json:"n"`
	DFBetween  int     `json:"df_between"`
	DFWithin   int     `json:"df_within"`
	MSBetween  float64 `json:"ms_between"`
	MSWithin   float64 `json:"ms_within"`
	FStatistic float64 `json:"f_statistic"`
	PValue     float64 `json:"p_value"`
}

// Significant reports whether the test ran and p <= alpha.
func (r ANOVAResult) Significant(alpha float64) bool {
	return r.Sufficient && r.PValue <= alpha
}

const (
	reasonANOVAGroups      = "Insufficient data (need at least 2 groups)."
	reasonANOVADoF         = "Insufficient data (no within-group degrees of freedom)."
	reasonANOVANoVariation = "Insufficient data (no variation in any group)."
)

// OneWayANOVA decomposes the variance of p into between- and within-group
// parts. F = MSB/MSW with p from the F(k-1, N-k) survival function.
//
// When every group is internally constant but the group means differ, F is
// +Inf and p is 0. When all observations are equal there is nothing to test
// and the result is insufficient.
func OneWayANOVA(p Partition) ANOVAResult {
	var groups [][]float64
	for _, g := range p.Groups {
		if len(g) > 0 {
			groups = append(groups, g)
		}
	}
	k := len(groups)
	n := 0
	for _, g := range groups {
		n += len(g)
	}
	r := ANOVAResult{Groups: k, N: n}
	if k < 2 {
		r.Reason = reasonANOVAGroups
		return r
	}
	if n-k < 1 {
		r.Reason = reasonANOVADoF
		return r
	}

	all := make([]float64, 0, n)
	for _, g := range groups {
		all = append(all, g...)
	}
	grand := stat.Mean(all, nil)

	var ssb, ssw float64
	for _, g := range groups {
		m := stat.Mean(g, nil)
		ssb += float64(len(g)) * (m - grand) * (m - grand)
		for _, v := range g {
			ssw += (v - m) * (v - m)
		}
	}

	r.DFBetween = k - 1
	r.DFWithin = n - k
	r.MSBetween = ssb / float64(r.DFBetween)
	r.MSWithin = ssw / float64(r.DFWithin)

	switch {
	case r.MSWithin == 0 && r.MSBetween == 0:
		r.Reason = reasonANOVANoVariation
		return r
	case r.MSWithin == 0:
		r.Sufficient = true
		r.FStatistic = math.Inf(1)
		r.PValue = 0
		return r
	}

	r.Sufficient = true
	r.FStatistic = r.MSBetween / r.MSWithin
	r.PValue = fSurvival(r.FStatistic, float64(r.DFBetween), float64(r.DFWithin))
	return r
}

// fSurvival is P(F > f) for F(d1, d2).
func fSurvival(f, d1, d2 float64) float64 {
	if math.IsInf(f, 1) {
		return 0
	}
	if f <= 0 {
		return 1
	}
	return mathext.RegIncBeta(d2/2, d1/2, d2/(d2+d1*f))
}
