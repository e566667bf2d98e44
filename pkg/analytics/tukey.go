package analytics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TukeyAlpha is the family-wise error rate used by TukeyHSD.
const TukeyAlpha = 0.05

// TukeyPair is one pairwise comparison. MeanDiff is mean(Group2) - mean(Group1).
// Reject is set when the confidence interval excludes zero.
type TukeyPair struct {
	Group1   string  `json:"group1"`
	Group2   string  `json:"group2"`
	MeanDiff float64 `json:"meandiff"`
	PAdj     float64 `json:"p_adj"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
	Reject   bool    `json:"reject"`
}

// TukeyResult holds every pairwise comparison, or the reason none were made.
type TukeyResult struct {
	Skipped bool        `json:"skipped"`
	Reason  string      `json:"reason,omitempty"`
	Alpha   float64     `json:"alpha"`
	QCrit   float64     `json:"q_crit,omitempty"`
	Pairs   []TukeyPair `json:"pairs,omitempty"`
}

const (
	reasonTukeyANOVA  = "ANOVA not significant; post-hoc test not performed."
	reasonTukeyGroups = "Post-hoc test requires more than 2 groups."
	reasonTukeyDoF    = "Insufficient within-group degrees of freedom."
)

// TukeyHSD compares every pair of groups in p after a significant ANOVA on
// the same partition. It is skipped when the ANOVA did not produce a
// p-value <= TukeyAlpha or when there are 2 groups or fewer.
func TukeyHSD(p Partition, anova ANOVAResult) TukeyResult {
	res := TukeyResult{Alpha: TukeyAlpha}
	if !anova.Significant(TukeyAlpha) {
		res.Skipped = true
		res.Reason = reasonTukeyANOVA
		return res
	}

	var labels []string
	var groups [][]float64
	for i, g := range p.Groups {
		if len(g) > 0 {
			labels = append(labels, p.Labels[i])
			groups = append(groups, g)
		}
	}
	k := len(groups)
	if k <= 2 {
		res.Skipped = true
		res.Reason = reasonTukeyGroups
		return res
	}

	n := 0
	means := make([]float64, k)
	var ssw float64
	for i, g := range groups {
		n += len(g)
		means[i] = stat.Mean(g, nil)
		for _, v := range g {
			ssw += (v - means[i]) * (v - means[i])
		}
	}
	df := float64(n - k)
	if df < 1 {
		res.Skipped = true
		res.Reason = reasonTukeyDoF
		return res
	}
	msw := ssw / df

	res.QCrit = studentizedRangeQuantile(1-TukeyAlpha, k, df)
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			diff := means[j] - means[i]
			se := math.Sqrt(msw / 2 * (1/float64(len(groups[i])) + 1/float64(len(groups[j]))))

			var padj float64
			switch {
			case se == 0 && diff == 0:
				padj = 1
			case se == 0:
				padj = 0
			default:
				padj = 1 - studentizedRangeCDF(math.Abs(diff)/se, k, df)
			}

			res.Pairs = append(res.Pairs, TukeyPair{
				Group1:   labels[i],
				Group2:   labels[j],
				MeanDiff: diff,
				PAdj:     clamp01(padj),
				Lower:    diff - res.QCrit*se,
				Upper:    diff + res.QCrit*se,
				Reject:   math.Abs(diff) > res.QCrit*se,
			})
		}
	}
	return res
}
