package analytics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/veritas-qms/veritas-engine/pkg/apperrors"
	"github.com/veritas-qms/veritas-engine/pkg/models"
)

// PoolabilityAlpha is the significance level of the slope interaction test.
const PoolabilityAlpha = 0.05

// PoolabilityResult is the outcome of the ANCOVA slope comparison.
//
// Heuristic is set when the test did not run because there were fewer than
// two lots or fewer than four rows. Poolable is then true by policy and
// carries no statistical weight.
type PoolabilityResult struct {
	Poolable   bool    `json:"poolable"`
	PValue     float64 `json:"p_value"`
	FStatistic float64 `json:"f_statistic,omitempty"`
	Heuristic  bool    `json:"heuristic"`
	Lots       int     `json:"lots"`
	N          int     `json:"n"`
	Reason     string  `json:"reason"`
}

const (
	reasonPoolInsufficient = "Insufficient data for test."
	reasonPoolSimilar      = "Slopes are not significantly different."
	reasonPoolDifferent    = "Slopes are significantly different."
)

// relative tolerance below which a residual sum of squares counts as zero
const rssTolerance = 1e-10

// stabilityPoint is one valid (time, value) observation of a lot.
type stabilityPoint struct {
	lot  string
	t, y float64
}

// lotMoments are the centred sums of one lot.
type lotMoments struct {
	n             int
	sxx, sxy, syy float64
}

func stabilityPoints(table *models.Table, valueCol, timeCol, lotCol string) ([]stabilityPoint, []string, error) {
	if table == nil {
		return nil, nil, fmt.Errorf("stability: nil table: %w", apperrors.ErrInvalidInput)
	}
	if err := table.RequireColumns(lotCol, timeCol, valueCol); err != nil {
		return nil, nil, fmt.Errorf("stability: %v: %w", err, apperrors.ErrInvalidInput)
	}
	if err := table.RequireNumeric(timeCol, valueCol); err != nil {
		return nil, nil, fmt.Errorf("stability: %v: %w", err, apperrors.ErrInvalidInput)
	}
	var pts []stabilityPoint
	var lots []string
	seen := map[string]bool{}
	for _, row := range table.Rows {
		t, okT := row.Float(timeCol)
		y, okY := row.Float(valueCol)
		if !okT || !okY || row.IsNull(lotCol) {
			continue
		}
		lot := row.String(lotCol)
		if !seen[lot] {
			seen[lot] = true
			lots = append(lots, lot)
		}
		pts = append(pts, stabilityPoint{lot: lot, t: t, y: y})
	}
	return pts, lots, nil
}

func momentsByLot(pts []stabilityPoint, lots []string) []lotMoments {
	idx := make(map[string]int, len(lots))
	for i, l := range lots {
		idx[l] = i
	}
	sumT := make([]float64, len(lots))
	sumY := make([]float64, len(lots))
	out := make([]lotMoments, len(lots))
	for _, p := range pts {
		i := idx[p.lot]
		out[i].n++
		sumT[i] += p.t
		sumY[i] += p.y
	}
	for _, p := range pts {
		i := idx[p.lot]
		mt := sumT[i] / float64(out[i].n)
		my := sumY[i] / float64(out[i].n)
		out[i].sxx += (p.t - mt) * (p.t - mt)
		out[i].sxy += (p.t - mt) * (p.y - my)
		out[i].syy += (p.y - my) * (p.y - my)
	}
	return out
}

// TestPoolability fits value ~ time * lot and tests the time x lot
// interaction with a Type II F-test. Lots are poolable when the interaction
// p-value exceeds PoolabilityAlpha.
//
// The full model gives every lot its own intercept and slope; the reduced
// model shares one slope. Both are solved in closed form from per-lot sums.
func TestPoolability(table *models.Table, valueCol, timeCol, lotCol string) (PoolabilityResult, error) {
	pts, lots, err := stabilityPoints(table, valueCol, timeCol, lotCol)
	if err != nil {
		return PoolabilityResult{}, err
	}
	res := PoolabilityResult{Lots: len(lots), N: len(pts)}
	if len(lots) < 2 || len(pts) < 4 {
		res.Poolable = true
		res.PValue = 1.0
		res.Heuristic = true
		res.Reason = reasonPoolInsufficient
		return res, nil
	}

	moments := momentsByLot(pts, lots)
	var rssFull, sumSxx, sumSxy, sumSyy float64
	paramsFull := 0
	for _, m := range moments {
		sumSxx += m.sxx
		sumSxy += m.sxy
		sumSyy += m.syy
		paramsFull++
		if m.sxx > 0 {
			paramsFull++
			rssFull += m.syy - m.sxy*m.sxy/m.sxx
		} else {
			rssFull += m.syy
		}
	}
	if sumSxx == 0 {
		return failedPoolability(res, "time does not vary within any lot"), nil
	}
	rssReduced := sumSyy - sumSxy*sumSxy/sumSxx
	paramsReduced := len(lots) + 1

	dfInteraction := paramsFull - paramsReduced
	dfResidual := len(pts) - paramsFull
	if dfInteraction < 1 {
		return failedPoolability(res, "no lot has a separately estimable slope"), nil
	}
	if dfResidual < 1 {
		return failedPoolability(res, "no residual degrees of freedom"), nil
	}

	rssFull = math.Max(rssFull, 0)
	delta := math.Max(rssReduced-rssFull, 0)
	scale := math.Max(sumSyy, math.SmallestNonzeroFloat64)

	if rssFull <= rssTolerance*scale {
		// Every lot lies exactly on its own line.
		if delta <= rssTolerance*scale {
			res.FStatistic = 0
			res.PValue = 1
		} else {
			res.FStatistic = math.Inf(1)
			res.PValue = 0
		}
	} else {
		res.FStatistic = (delta / float64(dfInteraction)) / (rssFull / float64(dfResidual))
		res.PValue = fSurvival(res.FStatistic, float64(dfInteraction), float64(dfResidual))
	}

	res.Poolable = res.PValue > PoolabilityAlpha
	if res.Poolable {
		res.Reason = reasonPoolSimilar
	} else {
		res.Reason = reasonPoolDifferent
	}
	return res, nil
}

func failedPoolability(res PoolabilityResult, why string) PoolabilityResult {
	res.Poolable = false
	res.PValue = 0
	res.Reason = "ANCOVA test failed: " + why
	return res
}

// TrendOptions selects the data ProjectTrend regresses on.
type TrendOptions struct {
	// Lot restricts the fit to one lot. Empty means the first lot in row order.
	Lot string
	// Pooled fits all lots together and ignores Lot.
	Pooled bool
}

// TrendResult is an ordinary least squares fit of value on time.
type TrendResult struct {
	Sufficient bool       `json:"sufficient"`
	Reason     string     `json:"reason,omitempty"`
	Lot        string     `json:"lot,omitempty"`
	Pooled     bool       `json:"pooled"`
	N          int        `json:"n"`
	Slope      float64    `json:"slope"`
	Intercept  float64    `json:"intercept"`
	RSquared   float64    `json:"r_squared"`
	PValue     float64    `json:"p_value"`
	StdErr     float64    `json:"std_err"`
	PredX      [2]float64 `json:"pred_x"`
	PredY      [2]float64 `json:"pred_y"`
}

// tiny keeps the t statistic finite for a perfect fit.
const tiny = 1e-20

// ProjectTrend regresses value on time and predicts at the ends of the
// observed time range. It needs at least two points with distinct times.
func ProjectTrend(table *models.Table, valueCol, timeCol, lotCol string, opts TrendOptions) (TrendResult, error) {
	pts, lots, err := stabilityPoints(table, valueCol, timeCol, lotCol)
	if err != nil {
		return TrendResult{}, err
	}
	res := TrendResult{Pooled: opts.Pooled}
	if len(pts) < 2 {
		res.Reason = "Insufficient data (need >= 2 points)."
		return res, nil
	}

	lot := opts.Lot
	if !opts.Pooled && lot == "" {
		lot = lots[0]
	}
	var x, y []float64
	for _, p := range pts {
		if opts.Pooled || p.lot == lot {
			x = append(x, p.t)
			y = append(y, p.y)
		}
	}
	if !opts.Pooled {
		res.Lot = lot
	}
	res.N = len(x)
	if len(x) < 2 {
		res.Reason = "Insufficient data (need >= 2 points)."
		return res, nil
	}

	mx, my := stat.Mean(x, nil), stat.Mean(y, nil)
	var sxx, sxy, syy float64
	minX, maxX := x[0], x[0]
	for i := range x {
		sxx += (x[i] - mx) * (x[i] - mx)
		sxy += (x[i] - mx) * (y[i] - my)
		syy += (y[i] - my) * (y[i] - my)
		minX = math.Min(minX, x[i])
		maxX = math.Max(maxX, x[i])
	}
	if sxx == 0 {
		res.Reason = "Insufficient data (time does not vary)."
		return res, nil
	}

	res.Intercept, res.Slope = stat.LinearRegression(x, y, nil, false)

	r := 0.0
	if syy != 0 {
		r = math.Max(-1, math.Min(1, sxy/math.Sqrt(sxx*syy)))
	}
	res.RSquared = r * r

	n := len(x)
	if n == 2 {
		res.StdErr = 0
		if y[0] == y[1] {
			res.PValue = 1
		} else {
			res.PValue = 0
		}
	} else {
		df := float64(n - 2)
		t := r * math.Sqrt(df/((1-r+tiny)*(1+r+tiny)))
		res.PValue = 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Survival(math.Abs(t))
		res.StdErr = math.Sqrt((1 - r*r) * syy / sxx / df)
	}

	res.PredX = [2]float64{minX, maxX}
	res.PredY = [2]float64{res.Intercept + res.Slope*minX, res.Intercept + res.Slope*maxX}
	res.Sufficient = true
	return res, nil
}
