package analytics

import (
	"math"
	"math/rand/v2"
)

const (
	// DefaultTrees is the size of the isolation forest ensemble.
	DefaultTrees = 100
	// DefaultMaxSamples caps the subsample each tree is grown on.
	DefaultMaxSamples = 256
)

const eulerGamma = 0.5772156649015329

// isolationNode is either an internal split or a leaf holding size samples.
type isolationNode struct {
	feature     int
	threshold   float64
	left, right *isolationNode
	size        int
}

func (n *isolationNode) leaf() bool {
	return n.left == nil
}

// IsolationForest is an ensemble of random isolation trees. Points that are
// isolated after few random splits receive high anomaly scores.
type IsolationForest struct {
	trees      []*isolationNode
	maxSamples int
}

// averagePathLength is the mean path length of an unsuccessful search in a
// binary search tree of n points, used to normalise depths.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	nf := float64(n)
	return 2*(math.Log(nf-1)+eulerGamma) - 2*(nf-1)/nf
}

// FitIsolationForest grows trees on random subsamples of data (rows of
// equal-length feature vectors). rng drives every random choice.
func FitIsolationForest(data [][]float64, trees, maxSamples int, rng *rand.Rand) *IsolationForest {
	n := len(data)
	if maxSamples > n {
		maxSamples = n
	}
	depthLimit := int(math.Ceil(math.Log2(math.Max(float64(maxSamples), 2))))

	f := &IsolationForest{maxSamples: maxSamples}
	for range trees {
		perm := rng.Perm(n)[:maxSamples]
		sample := make([][]float64, maxSamples)
		for i, p := range perm {
			sample[i] = data[p]
		}
		f.trees = append(f.trees, growIsolationTree(sample, 0, depthLimit, rng))
	}
	return f
}

func growIsolationTree(sample [][]float64, depth, limit int, rng *rand.Rand) *isolationNode {
	if len(sample) <= 1 || depth >= limit {
		return &isolationNode{size: len(sample)}
	}

	// Pick a random feature among those that still vary in this node.
	nFeatures := len(sample[0])
	var candidates []int
	mins := make([]float64, nFeatures)
	maxs := make([]float64, nFeatures)
	for j := range nFeatures {
		mins[j], maxs[j] = sample[0][j], sample[0][j]
		for _, row := range sample[1:] {
			mins[j] = math.Min(mins[j], row[j])
			maxs[j] = math.Max(maxs[j], row[j])
		}
		if maxs[j] > mins[j] {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return &isolationNode{size: len(sample)}
	}
	feature := candidates[rng.IntN(len(candidates))]
	threshold := mins[feature] + rng.Float64()*(maxs[feature]-mins[feature])

	var left, right [][]float64
	for _, row := range sample {
		if row[feature] <= threshold {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return &isolationNode{
		feature:   feature,
		threshold: threshold,
		left:      growIsolationTree(left, depth+1, limit, rng),
		right:     growIsolationTree(right, depth+1, limit, rng),
		size:      len(sample),
	}
}

func pathLength(node *isolationNode, x []float64) float64 {
	depth := 0.0
	for !node.leaf() {
		if x[node.feature] <= node.threshold {
			node = node.left
		} else {
			node = node.right
		}
		depth++
	}
	return depth + averagePathLength(node.size)
}

// Score returns the anomaly score of x in (0, 1]; higher is more anomalous.
func (f *IsolationForest) Score(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0.5
	}
	total := 0.0
	for _, t := range f.trees {
		total += pathLength(t, x)
	}
	mean := total / float64(len(f.trees))
	c := averagePathLength(f.maxSamples)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -mean/c)
}
