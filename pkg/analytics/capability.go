// Package analytics implements the statistical checks behind the quality
// dashboards: process capability, normality, ANOVA with Tukey post-hoc,
// stability poolability and trend projection, and isolation-forest anomaly
// detection. Every function is pure and safe for concurrent use.
package analytics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/veritas-qms/veritas-engine/pkg/models"
)

// dropNaN returns the non-missing values of x in their original order.
func dropNaN(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// CalculateCpk returns the process capability index of values against the
// given bounds. NaN values are treated as missing.
//
// Fewer than two valid values or a zero sample standard deviation yields 0.
// With no bounds the process is unbounded and the result is +Inf. An absent
// bound contributes +Inf to the minimum, never zero.
func CalculateCpk(values []float64, lower, upper *float64) float64 {
	clean := dropNaN(values)
	if len(clean) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(clean, nil)
	if std == 0 {
		return 0
	}
	if lower == nil && upper == nil {
		return math.Inf(1)
	}

	cpu := math.Inf(1)
	if upper != nil {
		cpu = (*upper - mean) / (3 * std)
	}
	cpl := math.Inf(1)
	if lower != nil {
		cpl = (mean - *lower) / (3 * std)
	}
	return math.Min(cpu, cpl)
}

// CpkForLimit is CalculateCpk with the bounds taken from a SpecLimit.
func CpkForLimit(values []float64, limit models.SpecLimit) float64 {
	return CalculateCpk(values, limit.Lower, limit.Upper)
}

// Describe returns count, mean, sample standard deviation, min, quartiles and
// max of the non-missing values. Quartiles use linear interpolation between
// order statistics.
func Describe(values []float64) models.SummaryStats {
	clean := dropNaN(values)
	if len(clean) == 0 {
		return models.SummaryStats{}
	}
	sorted := append([]float64(nil), clean...)
	sort.Float64s(sorted)

	s := models.SummaryStats{
		Count:  len(sorted),
		Mean:   stat.Mean(sorted, nil),
		Min:    sorted[0],
		Q1:     percentile(sorted, 25),
		Median: percentile(sorted, 50),
		Q3:     percentile(sorted, 75),
		Max:    sorted[len(sorted)-1],
	}
	if len(sorted) > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	} else {
		s.StdDev = math.NaN()
	}
	return s
}

// percentile returns the q-th percentile (0..100) of ascending sorted data
// using linear interpolation between the two nearest ranks.
func percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	pos := q / 100 * float64(n-1)
	lo := int(math.Floor(pos))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
