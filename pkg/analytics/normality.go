package analytics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// NormalityResult is the outcome of a Shapiro-Wilk test.
type NormalityResult struct {
	Sufficient bool    `json:"sufficient"`
	N          int     `json:"n"`
	Statistic  float64 `json:"statistic,omitempty"`
	PValue     float64 `json:"p_value,omitempty"`
	Normal     bool    `json:"normal"`
	Conclusion string  `json:"conclusion"`
}

const (
	conclusionNormalityInsufficient = "Insufficient data (need >= 3)."
	conclusionNormalityNoVariation  = "Insufficient data (no variation)."
	conclusionNormal                = "Data appears normal (p > 0.05)."
	conclusionNonNormal             = "Data is likely non-normal (p <= 0.05)."
)

// Royston (1995) polynomial approximations for the Shapiro-Wilk weights and
// the null distribution of W.
var (
	swC1 = []float64{0, 0.221157, -0.147981, -2.07119, 4.434685, -2.706056}
	swC2 = []float64{0, 0.042981, -0.293762, -1.752461, 5.682633, -3.582633}
	swC3 = []float64{0.544, -0.39978, 0.025054, -6.714e-4}
	swC4 = []float64{1.3822, -0.77857, 0.062767, -0.0020322}
	swC5 = []float64{-1.5861, -0.31082, -0.083751, 0.0038915}
	swC6 = []float64{-0.4803, -0.082676, 0.0030302}
	swG  = []float64{-2.273, 0.459}
)

// NormalityTest runs the Shapiro-Wilk test on the non-missing values.
// Samples are limited only by memory; the approximation is validated for
// 3 <= n <= 5000.
func NormalityTest(values []float64) NormalityResult {
	x := dropNaN(values)
	n := len(x)
	if n < 3 {
		return NormalityResult{N: n, Conclusion: conclusionNormalityInsufficient}
	}
	sort.Float64s(x)
	if x[n-1]-x[0] == 0 {
		return NormalityResult{N: n, Conclusion: conclusionNormalityNoVariation}
	}

	w := shapiroW(x)
	p := shapiroPValue(w, n)

	r := NormalityResult{Sufficient: true, N: n, Statistic: w, PValue: p}
	if p > 0.05 {
		r.Normal = true
		r.Conclusion = conclusionNormal
	} else {
		r.Conclusion = conclusionNonNormal
	}
	return r
}

// shapiroWeights returns the first n/2 coefficients; the rest are symmetric.
func shapiroWeights(n int) []float64 {
	half := n / 2
	a := make([]float64, half)
	if n == 3 {
		a[0] = math.Sqrt(0.5)
		return a
	}

	fn := float64(n)
	m := make([]float64, half)
	summ2 := 0.0
	for i := range half {
		m[i] = distuv.UnitNormal.Quantile((float64(i+1) - 0.375) / (fn + 0.25))
		summ2 += m[i] * m[i]
	}
	summ2 *= 2
	ssumm2 := math.Sqrt(summ2)
	rsn := 1 / math.Sqrt(fn)
	a1 := poly(swC1, rsn) - m[0]/ssumm2

	first := 1
	var fac float64
	if n > 5 {
		first = 2
		a2 := -m[1]/ssumm2 + poly(swC2, rsn)
		fac = math.Sqrt((summ2 - 2*m[0]*m[0] - 2*m[1]*m[1]) / (1 - 2*a1*a1 - 2*a2*a2))
		a[1] = a2
	} else {
		fac = math.Sqrt((summ2 - 2*m[0]*m[0]) / (1 - 2*a1*a1))
	}
	a[0] = a1
	for i := first; i < half; i++ {
		a[i] = -m[i] / fac
	}
	return a
}

// shapiroW computes W for ascending sorted data with non-zero range.
func shapiroW(x []float64) float64 {
	n := len(x)
	a := shapiroWeights(n)
	rng := x[n-1] - x[0]

	mean := 0.0
	for _, v := range x {
		mean += v / rng
	}
	mean /= float64(n)

	num := 0.0
	for i, ai := range a {
		num += ai * (x[n-1-i] - x[i]) / rng
	}
	ss := 0.0
	for _, v := range x {
		d := v/rng - mean
		ss += d * d
	}
	w := num * num / ss
	if w > 1 {
		w = 1
	}
	return w
}

func shapiroPValue(w float64, n int) float64 {
	if n == 3 {
		p := 6 / math.Pi * (math.Asin(math.Sqrt(w)) - math.Pi/3)
		return math.Max(p, 0)
	}
	w1 := 1 - w
	if w1 <= 0 {
		return 1
	}
	y := math.Log(w1)
	fn := float64(n)

	var m, s float64
	if n <= 11 {
		gamma := poly(swG, fn)
		if y >= gamma {
			return 1e-99
		}
		y = -math.Log(gamma - y)
		m = poly(swC3, fn)
		s = math.Exp(poly(swC4, fn))
	} else {
		ln := math.Log(fn)
		m = poly(swC5, ln)
		s = math.Exp(poly(swC6, ln))
	}
	return distuv.Normal{Mu: m, Sigma: s}.Survival(y)
}

// poly evaluates c[0] + c[1]x + c[2]x^2 + ...
func poly(c []float64, x float64) float64 {
	r := 0.0
	for i := len(c) - 1; i >= 0; i-- {
		r = r*x + c[i]
	}
	return r
}
