// Package split partitions record indices for training, evaluation and
// cross-validation.
package split

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/rotisserie/eris"
)

// TrainTest returns a seeded random partition of [0, n). The test partition
// holds ceil(n*testRatio) indices; both partitions are sorted ascending.
func TrainTest(n int, testRatio float64, seed uint64) (train, test []int, err error) {
	if testRatio <= 0 || testRatio >= 1 {
		return nil, nil, eris.Errorf("split: test ratio %v outside (0, 1)", testRatio)
	}
	nTest := int(math.Ceil(float64(n) * testRatio))
	nTrain := n - nTest
	if nTest < 1 || nTrain < 1 {
		return nil, nil, eris.Errorf("split: %d records cannot be split with ratio %v", n, testRatio)
	}

	perm := NewRand(seed).Perm(n)
	test = append([]int(nil), perm[:nTest]...)
	train = append([]int(nil), perm[nTest:]...)
	slices.Sort(test)
	slices.Sort(train)
	return train, test, nil
}

// NewRand returns a deterministic PCG-backed generator.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Take gathers the rows of X and y at idx.
func Take(X [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	outX := make([][]float64, len(idx))
	outY := make([]float64, len(idx))
	for i, j := range idx {
		outX[i] = X[j]
		outY[i] = y[j]
	}
	return outX, outY
}

// Fold is one cross-validation split.
type Fold struct {
	Train []int
	Valid []int
}

// StratifiedKFold splits indices into k folds that preserve class
// proportions. Each class's indices, in order, are dealt into k contiguous
// chunks whose sizes differ by at most one. No shuffling is done.
func StratifiedKFold(y []float64, k int) ([]Fold, error) {
	if k < 2 {
		return nil, eris.Errorf("split: k=%d folds, need at least 2", k)
	}
	if len(y) < k {
		return nil, eris.Errorf("split: %d samples cannot fill %d folds", len(y), k)
	}

	byClass := map[float64][]int{}
	var classes []float64
	for i, label := range y {
		if _, ok := byClass[label]; !ok {
			classes = append(classes, label)
		}
		byClass[label] = append(byClass[label], i)
	}
	slices.Sort(classes)

	validSets := make([][]int, k)
	for _, c := range classes {
		idx := byClass[c]
		start := 0
		for f := 0; f < k; f++ {
			size := len(idx) / k
			if f < len(idx)%k {
				size++
			}
			validSets[f] = append(validSets[f], idx[start:start+size]...)
			start += size
		}
	}

	folds := make([]Fold, k)
	for f := range folds {
		valid := validSets[f]
		slices.Sort(valid)
		inValid := make(map[int]bool, len(valid))
		for _, i := range valid {
			inValid[i] = true
		}
		train := make([]int, 0, len(y)-len(valid))
		for i := range y {
			if !inValid[i] {
				train = append(train, i)
			}
		}
		folds[f] = Fold{Train: train, Valid: valid}
	}
	return folds, nil
}
