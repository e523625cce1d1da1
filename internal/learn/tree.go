package learn

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/rotisserie/eris"
)

// Split criteria.
const (
	CriterionMSE     = "squared_error"
	CriterionGini    = "gini"
	CriterionEntropy = "entropy"
)

// Node is one node of a fitted tree. Leaves have Feature == -1.
// Value holds the mean target for regression trees and class
// probabilities for classification trees.
type Node struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t,omitempty"`
	Left      int       `json:"l,omitempty"`
	Right     int       `json:"r,omitempty"`
	Value     []float64 `json:"v"`
	Samples   int       `json:"n"`
}

// Tree is a fitted binary decision tree stored as a flat node slice; the
// root is Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// leaf returns the leaf reached by x.
func (t *Tree) leaf(x []float64) *Node {
	n := &t.Nodes[0]
	for n.Feature >= 0 {
		if x[n.Feature] <= n.Threshold {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
	}
	return n
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0)
}

// treeParams bounds tree growth. MaxDepth 0 means unbounded; MaxFeatures 0
// means every feature is considered at each split.
type treeParams struct {
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	NClasses        int
}

func (p treeParams) validate() error {
	switch p.Criterion {
	case CriterionMSE:
	case CriterionGini, CriterionEntropy:
		if p.NClasses < 2 {
			return eris.Errorf("learn: classification tree needs at least 2 classes, got %d", p.NClasses)
		}
	default:
		return eris.Errorf("learn: unknown criterion %q", p.Criterion)
	}
	if p.MaxDepth < 0 {
		return eris.Errorf("learn: max depth %d < 0", p.MaxDepth)
	}
	if p.MinSamplesSplit < 2 {
		return eris.Errorf("learn: min samples split %d < 2", p.MinSamplesSplit)
	}
	if p.MinSamplesLeaf < 1 {
		return eris.Errorf("learn: min samples leaf %d < 1", p.MinSamplesLeaf)
	}
	return nil
}

// treeBuilder grows one tree over rows idx of X.
type treeBuilder struct {
	X      [][]float64
	y      []float64
	params treeParams
	rng    *rand.Rand
	nodes  []Node
	feats  []int
}

// growTree fits a tree on the rows of X listed in idx (duplicates allowed,
// which is how bootstrap samples are expressed).
func growTree(X [][]float64, y []float64, idx []int, params treeParams, rng *rand.Rand) (*Tree, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	p := len(X[0])
	b := &treeBuilder{X: X, y: y, params: params, rng: rng, feats: make([]int, p)}
	for j := range b.feats {
		b.feats[j] = j
	}
	work := append([]int(nil), idx...)
	b.build(work, 0)
	return &Tree{Nodes: b.nodes}, nil
}

func (b *treeBuilder) classification() bool {
	return b.params.Criterion != CriterionMSE
}

// build appends the subtree for idx and returns its node index.
func (b *treeBuilder) build(idx []int, depth int) int {
	self := len(b.nodes)
	value, impurity := b.nodeStats(idx)
	b.nodes = append(b.nodes, Node{Feature: -1, Value: value, Samples: len(idx)})

	n := len(idx)
	if (b.params.MaxDepth > 0 && depth >= b.params.MaxDepth) ||
		n < b.params.MinSamplesSplit ||
		n < 2*b.params.MinSamplesLeaf ||
		impurity <= 1e-12 {
		return self
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return self
	}

	left := make([]int, 0, n)
	right := make([]int, 0, n)
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[self].Feature = feature
	b.nodes[self].Threshold = threshold
	b.nodes[self].Left = l
	b.nodes[self].Right = r
	return self
}

// nodeStats returns the node value and impurity for idx.
func (b *treeBuilder) nodeStats(idx []int) ([]float64, float64) {
	n := float64(len(idx))
	if !b.classification() {
		var sum, sq float64
		for _, i := range idx {
			sum += b.y[i]
			sq += b.y[i] * b.y[i]
		}
		mean := sum / n
		return []float64{mean}, sq/n - mean*mean
	}
	counts := make([]float64, b.params.NClasses)
	for _, i := range idx {
		counts[int(b.y[i])]++
	}
	imp := b.classImpurity(counts, n)
	for c := range counts {
		counts[c] /= n
	}
	return counts, imp
}

func (b *treeBuilder) classImpurity(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	if b.params.Criterion == CriterionGini {
		g := 1.0
		for _, c := range counts {
			p := c / n
			g -= p * p
		}
		return g
	}
	var e float64
	for _, c := range counts {
		if c > 0 {
			p := c / n
			e -= p * math.Log2(p)
		}
	}
	return e
}

// candidateFeatures returns the features to examine at one node.
func (b *treeBuilder) candidateFeatures() []int {
	k := b.params.MaxFeatures
	if k <= 0 || k >= len(b.feats) {
		return b.feats
	}
	// Partial Fisher-Yates over a scratch copy.
	f := append([]int(nil), b.feats...)
	for i := 0; i < k; i++ {
		j := i + b.rng.IntN(len(f)-i)
		f[i], f[j] = f[j], f[i]
	}
	return f[:k]
}

// bestSplit scans the candidate features for the split with the lowest
// weighted child impurity. The first best split found wins ties.
func (b *treeBuilder) bestSplit(idx []int) (feature int, threshold float64, ok bool) {
	n := len(idx)
	minLeaf := b.params.MinSamplesLeaf
	sorted := make([]int, n)
	best := math.Inf(1)

	var totalSum float64
	var totalCounts []float64
	if b.classification() {
		totalCounts = make([]float64, b.params.NClasses)
		for _, i := range idx {
			totalCounts[int(b.y[i])]++
		}
	} else {
		for _, i := range idx {
			totalSum += b.y[i]
		}
	}
	leftCounts := make([]float64, b.params.NClasses)
	rightCounts := make([]float64, b.params.NClasses)

	for _, f := range b.candidateFeatures() {
		copy(sorted, idx)
		slices.SortStableFunc(sorted, func(a, c int) int {
			va, vc := b.X[a][f], b.X[c][f]
			switch {
			case va < vc:
				return -1
			case va > vc:
				return 1
			default:
				return 0
			}
		})
		if b.X[sorted[0]][f] == b.X[sorted[n-1]][f] {
			continue
		}

		var leftSum float64
		for c := range leftCounts {
			leftCounts[c] = 0
		}
		for pos := 0; pos < n-1; pos++ {
			i := sorted[pos]
			if b.classification() {
				leftCounts[int(b.y[i])]++
			} else {
				leftSum += b.y[i]
			}

			nl := pos + 1
			nr := n - nl
			if nl < minLeaf || nr < minLeaf {
				continue
			}
			xv, xn := b.X[i][f], b.X[sorted[pos+1]][f]
			if xv == xn {
				continue
			}

			var score float64
			if b.classification() {
				for c := range rightCounts {
					rightCounts[c] = totalCounts[c] - leftCounts[c]
				}
				score = float64(nl)*b.classImpurity(leftCounts, float64(nl)) +
					float64(nr)*b.classImpurity(rightCounts, float64(nr))
			} else {
				// Minimizing child SSE is maximizing sumL²/nL + sumR²/nR.
				rightSum := totalSum - leftSum
				score = -(leftSum*leftSum/float64(nl) + rightSum*rightSum/float64(nr))
			}

			if score < best {
				best = score
				feature = f
				threshold = xv/2 + xn/2
				if threshold >= xn || math.IsInf(threshold, 0) {
					threshold = xv
				}
				ok = true
			}
		}
	}
	return feature, threshold, ok
}
