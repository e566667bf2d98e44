package analytics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

func TestNormalityTest_Insufficient(t *testing.T) {
	tests := []struct {
		name       string
		values     []float64
		conclusion string
	}{
		{name: "two values", values: []float64{1, 2}, conclusion: conclusionNormalityInsufficient},
		{name: "nulls dropped", values: []float64{1, math.NaN(), 2, math.NaN()}, conclusion: conclusionNormalityInsufficient},
		{name: "constant", values: []float64{3, 3, 3, 3}, conclusion: conclusionNormalityNoVariation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NormalityTest(tt.values)
			assert.False(t, r.Sufficient)
			assert.Equal(t, tt.conclusion, r.Conclusion)
			assert.Zero(t, r.PValue)
		})
	}
}

func TestNormalityTest_ThreePointsExact(t *testing.T) {
	// Equally spaced points give W = 1 and the exact n=3 p-value of 1.
	r := NormalityTest([]float64{1, 2, 3})

	require.True(t, r.Sufficient)
	assert.InDelta(t, 1.0, r.Statistic, 1e-9)
	assert.InDelta(t, 1.0, r.PValue, 1e-6)
	assert.True(t, r.Normal)
}

func TestNormalityTest_NormalSample(t *testing.T) {
	// Expected normal order statistics are as normal as a sample gets.
	values := make([]float64, 30)
	for i := range values {
		values[i] = 100 + 2*distuv.UnitNormal.Quantile((float64(i)+0.5)/30)
	}

	r := NormalityTest(values)

	require.True(t, r.Sufficient)
	assert.Greater(t, r.Statistic, 0.95)
	assert.Greater(t, r.PValue, 0.05)
	assert.Equal(t, conclusionNormal, r.Conclusion)
}

func TestNormalityTest_SmallNormalSample(t *testing.T) {
	values := []float64{99.1, 99.6, 100.0, 100.3, 100.9, 99.8, 100.2}

	r := NormalityTest(values)

	require.True(t, r.Sufficient)
	assert.Greater(t, r.PValue, 0.05)
}

func TestNormalityTest_SkewedSample(t *testing.T) {
	values := []float64{1, 1, 1, 1.1, 1, 0.9, 1, 1, 1.05, 1, 0.95, 1, 1, 1, 25}

	r := NormalityTest(values)

	require.True(t, r.Sufficient)
	assert.Less(t, r.PValue, 0.05)
	assert.False(t, r.Normal)
	assert.Equal(t, conclusionNonNormal, r.Conclusion)
}

func TestShapiroWeights_UnitNorm(t *testing.T) {
	// The full coefficient vector has unit length.
	for _, n := range []int{4, 5, 6, 11, 12, 50} {
		a := shapiroWeights(n)
		sum := 0.0
		for _, v := range a {
			sum += 2 * v * v
		}
		assert.InDelta(t, 1.0, sum, 1e-6, "n=%d", n)
		for i := 1; i < len(a); i++ {
			assert.Greater(t, a[i-1], a[i], "weights must decrease, n=%d", n)
		}
	}
}

func TestPoly(t *testing.T) {
	assert.Equal(t, 1.0+2*3+3*9, poly([]float64{1, 2, 3}, 3))
}
