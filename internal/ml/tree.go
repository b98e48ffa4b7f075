package ml

import (
	"math"
	"math/rand"
	"sort"
)

// treeNode is one node of a regression tree. Internal nodes route by
// feature threshold; rows with a NaN feature follow DefaultLeft, learned
// at fit time by trying both directions.
type treeNode struct {
	Leaf        bool      `json:"leaf"`
	Value       float64   `json:"value,omitempty"`
	Feature     int       `json:"feature,omitempty"`
	Threshold   float64   `json:"threshold,omitempty"`
	DefaultLeft bool      `json:"default_left,omitempty"`
	Left        *treeNode `json:"left,omitempty"`
	Right       *treeNode `json:"right,omitempty"`
}

func (n *treeNode) predict(features []float64) float64 {
	for !n.Leaf {
		v := features[n.Feature]
		goLeft := v <= n.Threshold
		if math.IsNaN(v) {
			goLeft = n.DefaultLeft
		}
		if goLeft {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

// treeParams control tree growth. maxFeatures 0 means consider every
// feature at each split.
type treeParams struct {
	maxDepth       int
	minSamplesLeaf int
	maxFeatures    int
}

type split struct {
	feature     int
	threshold   float64
	defaultLeft bool
	gain        float64
	left, right []int
}

// fitTree grows a regression tree over the sample indices. x rows may
// contain NaN.
func fitTree(x [][]float64, y []float64, idx []int, params treeParams, rng *rand.Rand) *treeNode {
	return growNode(x, y, idx, 0, params, rng)
}

func growNode(x [][]float64, y []float64, idx []int, depth int, params treeParams, rng *rand.Rand) *treeNode {
	if depth >= params.maxDepth || len(idx) < 2*params.minSamplesLeaf {
		return &treeNode{Leaf: true, Value: meanAt(y, idx)}
	}

	best := bestSplit(x, y, idx, params, rng)
	if best == nil {
		return &treeNode{Leaf: true, Value: meanAt(y, idx)}
	}

	return &treeNode{
		Feature:     best.feature,
		Threshold:   best.threshold,
		DefaultLeft: best.defaultLeft,
		Left:        growNode(x, y, best.left, depth+1, params, rng),
		Right:       growNode(x, y, best.right, depth+1, params, rng),
	}
}

func bestSplit(x [][]float64, y []float64, idx []int, params treeParams, rng *rand.Rand) *split {
	dim := len(x[0])
	feats := candidateFeatures(dim, params.maxFeatures, rng)

	parentSSE := sseAt(y, idx)
	var best *split

	for _, j := range feats {
		// Partition indices into rows with a value for j and rows missing
		// it; the missing rows are assigned to whichever side cuts more
		// error.
		var present, missing []int
		for _, i := range idx {
			if math.IsNaN(x[i][j]) {
				missing = append(missing, i)
			} else {
				present = append(present, i)
			}
		}
		if len(present) < 2*params.minSamplesLeaf {
			continue
		}

		sort.Slice(present, func(a, b int) bool { return x[present[a]][j] < x[present[b]][j] })

		// Prefix sums over the sorted order give O(1) SSE per cut point.
		n := len(present)
		prefSum := make([]float64, n+1)
		prefSq := make([]float64, n+1)
		for k, i := range present {
			prefSum[k+1] = prefSum[k] + y[i]
			prefSq[k+1] = prefSq[k] + y[i]*y[i]
		}
		missSum, missSq := 0.0, 0.0
		for _, i := range missing {
			missSum += y[i]
			missSq += y[i] * y[i]
		}
		nm := float64(len(missing))

		for k := params.minSamplesLeaf; k <= n-params.minSamplesLeaf; k++ {
			vPrev := x[present[k-1]][j]
			if k < n && x[present[k]][j] == vPrev {
				continue // cut must separate distinct values
			}

			lSum, lSq, ln := prefSum[k], prefSq[k], float64(k)
			rSum, rSq, rn := prefSum[n]-prefSum[k], prefSq[n]-prefSq[k], float64(n-k)

			for _, missLeft := range []bool{true, false} {
				ls, lq, lc := lSum, lSq, ln
				rs, rq, rc := rSum, rSq, rn
				if missLeft {
					ls += missSum
					lq += missSq
					lc += nm
				} else {
					rs += missSum
					rq += missSq
					rc += nm
				}
				childSSE := (lq - ls*ls/lc) + (rq - rs*rs/rc)
				gain := parentSSE - childSSE
				if best == nil || gain > best.gain {
					threshold := vPrev
					if k < n {
						threshold = (vPrev + x[present[k]][j]) / 2
					}
					best = &split{
						feature: j, threshold: threshold,
						defaultLeft: missLeft, gain: gain,
					}
				}
				if nm == 0 {
					break // both directions identical without missing rows
				}
			}
		}
	}

	if best == nil || best.gain <= 1e-12 {
		return nil
	}

	// Materialize the chosen partition.
	for _, i := range idx {
		v := x[i][best.feature]
		goLeft := v <= best.threshold
		if math.IsNaN(v) {
			goLeft = best.defaultLeft
		}
		if goLeft {
			best.left = append(best.left, i)
		} else {
			best.right = append(best.right, i)
		}
	}
	if len(best.left) == 0 || len(best.right) == 0 {
		return nil
	}
	return best
}

func candidateFeatures(dim, maxFeatures int, rng *rand.Rand) []int {
	all := make([]int, dim)
	for j := range all {
		all[j] = j
	}
	if maxFeatures <= 0 || maxFeatures >= dim || rng == nil {
		return all
	}
	rng.Shuffle(dim, func(a, b int) { all[a], all[b] = all[b], all[a] })
	return all[:maxFeatures]
}

func meanAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}

func sseAt(y []float64, idx []int) float64 {
	m := meanAt(y, idx)
	var sse float64
	for _, i := range idx {
		d := y[i] - m
		sse += d * d
	}
	return sse
}
