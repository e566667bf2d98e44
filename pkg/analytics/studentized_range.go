package analytics

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/stat/distuv"
)

// Quadrature resolution for the studentized range integrals.
const (
	srangeInnerNodes = 128
	srangeOuterNodes = 96
	srangeZBound     = 8.5
)

// legendreRule holds Gauss-Legendre nodes and weights on [-1, 1].
type legendreRule struct {
	x, w []float64
}

var (
	legendreMu    sync.Mutex
	legendreRules = map[int]*legendreRule{}
)

func legendre(n int) *legendreRule {
	legendreMu.Lock()
	defer legendreMu.Unlock()
	if r, ok := legendreRules[n]; ok {
		return r
	}
	r := &legendreRule{x: make([]float64, n), w: make([]float64, n)}
	quad.Legendre{}.FixedLocations(r.x, r.w, -1, 1)
	legendreRules[n] = r
	return r
}

// integrate applies the n-point rule to f over [a, b].
func integrate(f func(float64) float64, a, b float64, n int) float64 {
	r := legendre(n)
	half := (b - a) / 2
	mid := (a + b) / 2
	sum := 0.0
	for i, x := range r.x {
		sum += r.w[i] * f(mid+half*x)
	}
	return sum * half
}

// srangeWithinCDF is P(range of k iid standard normals < w).
//
//	W(w) = k * Integral phi(z) * [Phi(z) - Phi(z-w)]^(k-1) dz
func srangeWithinCDF(w float64, k int) float64 {
	if w <= 0 {
		return 0
	}
	kf := float64(k)
	f := func(z float64) float64 {
		d := distuv.UnitNormal.CDF(z) - distuv.UnitNormal.CDF(z-w)
		if d <= 0 {
			return 0
		}
		return distuv.UnitNormal.Prob(z) * math.Pow(d, kf-1)
	}
	// phi(z) is negligible outside [-bound, bound].
	v := kf * integrate(f, -srangeZBound, srangeZBound, srangeInnerNodes)
	return clamp01(v)
}

// studentizedRangeCDF is P(Q < q) for the studentized range distribution
// with k groups and df degrees of freedom.
func studentizedRangeCDF(q float64, k int, df float64) float64 {
	if q <= 0 {
		return 0
	}
	if math.IsInf(q, 1) {
		return 1
	}
	if df > 25000 || math.IsInf(df, 1) {
		return srangeWithinCDF(q, k)
	}

	// s = chi_df / sqrt(df) has density
	//   df^(df/2) / (Gamma(df/2) 2^(df/2-1)) s^(df-1) exp(-df s^2 / 2)
	lg, _ := math.Lgamma(df / 2)
	logNorm := df/2*math.Log(df) - lg - (df/2-1)*math.Ln2
	density := func(s float64) float64 {
		if s <= 0 {
			return 0
		}
		return math.Exp(logNorm + (df-1)*math.Log(s) - df*s*s/2)
	}

	spread := 9 / math.Sqrt(df)
	lo := math.Max(0, 1-spread)
	hi := 1 + 1.5*spread
	f := func(s float64) float64 {
		d := density(s)
		if d < 1e-300 {
			return 0
		}
		return d * srangeWithinCDF(q*s, k)
	}
	return clamp01(integrate(f, lo, hi, srangeOuterNodes))
}

// studentizedRangeQuantile returns q with P(Q < q) = p, found by bisection.
func studentizedRangeQuantile(p float64, k int, df float64) float64 {
	lo, hi := 0.0, 2.0
	for studentizedRangeCDF(hi, k, df) < p && hi < 1e3 {
		lo = hi
		hi *= 2
	}
	for range 60 {
		mid := (lo + hi) / 2
		if studentizedRangeCDF(mid, k, df) < p {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo < 1e-9 {
			break
		}
	}
	return (lo + hi) / 2
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
