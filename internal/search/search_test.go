package search

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-intel/internal/config"
	"github.com/sells-group/invoice-intel/internal/model"
	"github.com/sells-group/invoice-intel/internal/split"
)

func separable(n int) ([][]float64, []float64) {
	rng := split.NewRand(7)
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		x0 := rng.Float64() * 100
		X[i] = []float64{x0, rng.Float64()}
		if x0 > 70 {
			y[i] = 1
		}
	}
	return X, y
}

func smallSpace() Space {
	return Space{
		Trees:           []int{5, 10},
		MaxDepth:        []int{0, 3},
		MinSamplesSplit: []int{2},
		MinSamplesLeaf:  []int{1},
		Criterion:       []string{"gini"},
	}
}

func TestSpace_Enumerate(t *testing.T) {
	s := smallSpace()
	got := s.Enumerate()
	require.Len(t, got, 4)
	assert.Equal(t, Params{Trees: 5, MaxDepth: 0, MinSamplesSplit: 2, MinSamplesLeaf: 1, Criterion: "gini"}, got[0])
	assert.Equal(t, Params{Trees: 10, MaxDepth: 0, MinSamplesSplit: 2, MinSamplesLeaf: 1, Criterion: "gini"}, got[1])
	assert.Equal(t, 3, got[2].MaxDepth)

	def := Space(config.Default().Search.Grid)
	assert.Len(t, def.Enumerate(), 216)
}

func TestGridSearch_Search(t *testing.T) {
	X, y := separable(120)
	folds, err := Folds(y, 3)
	require.NoError(t, err)

	gs := &GridSearch{Seed: 42, Parallelism: 2, TieBreak: config.TieBreakSimplest}
	res, err := gs.Search(context.Background(), smallSpace(), PositiveF1, folds, X, y)
	require.NoError(t, err)

	assert.Len(t, res.Trials, 4)
	for i, tr := range res.Trials {
		assert.Equal(t, i, tr.Index)
		assert.True(t, tr.Valid)
		assert.Len(t, tr.FoldScores, 3)
	}
	assert.Greater(t, res.BestScore, 0.8)
	require.NotNil(t, res.Model)
	assert.Equal(t, 2, res.Model.NumFeatures())

	pred, err := res.Model.Predict([][]float64{{95, 0.5}, {5, 0.5}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, pred)
}

func TestGridSearch_ParallelismDoesNotChangeOutcome(t *testing.T) {
	X, y := separable(90)
	folds, err := Folds(y, 3)
	require.NoError(t, err)

	serial, err := (&GridSearch{Seed: 42, Parallelism: 1}).Search(context.Background(), smallSpace(), PositiveF1, folds, X, y)
	require.NoError(t, err)
	parallel, err := (&GridSearch{Seed: 42, Parallelism: 4}).Search(context.Background(), smallSpace(), PositiveF1, folds, X, y)
	require.NoError(t, err)

	assert.Equal(t, serial.Best, parallel.Best)
	assert.Equal(t, serial.Trials, parallel.Trials)
	assert.Equal(t, serial.Model, parallel.Model)
}

func TestGridSearch_Exhausted(t *testing.T) {
	X := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}}
	y := []float64{0, 0, 0, 0, 0, 0}
	folds, err := Folds(y, 3)
	require.NoError(t, err)

	_, err = (&GridSearch{Seed: 1}).Search(context.Background(), smallSpace(), PositiveF1, folds, X, y)
	assert.ErrorIs(t, err, model.ErrSearchExhausted)

	_, err = Folds([]float64{0, 1}, 5)
	assert.ErrorIs(t, err, model.ErrSearchExhausted)

	_, err = (&GridSearch{}).Search(context.Background(), Space{}, PositiveF1, folds, X, y)
	assert.ErrorIs(t, err, model.ErrSearchExhausted)
}

func TestGridSearch_Canceled(t *testing.T) {
	X, y := separable(60)
	folds, err := Folds(y, 3)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = (&GridSearch{Seed: 1}).Search(ctx, smallSpace(), PositiveF1, folds, X, y)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGridSearch_TieBreak(t *testing.T) {
	trials := []Trial{
		{Index: 0, Params: Params{Trees: 300, MaxDepth: 4}, Mean: 0.9, Valid: true},
		{Index: 1, Params: Params{Trees: 100, MaxDepth: 0}, Mean: 0.9, Valid: true},
		{Index: 2, Params: Params{Trees: 100, MaxDepth: 6}, Mean: 0.9, Valid: true},
		{Index: 3, Params: Params{Trees: 100, MaxDepth: 6}, Mean: 0.9, Valid: true},
		{Index: 4, Params: Params{Trees: 100, MaxDepth: 4}, Mean: 0.8, Valid: true},
		{Index: 5, Params: Params{Trees: 100, MaxDepth: 4}, Valid: false},
	}

	simplest, ok := (&GridSearch{TieBreak: config.TieBreakSimplest}).pick(trials)
	require.True(t, ok)
	assert.Equal(t, 2, simplest)

	first, ok := (&GridSearch{TieBreak: config.TieBreakFirst}).pick(trials)
	require.True(t, ok)
	assert.Equal(t, 0, first)

	_, ok = (&GridSearch{}).pick([]Trial{{Valid: false}})
	assert.False(t, ok)
}

func TestGridSearch_UnscorableFoldCountsAsZero(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}, {3}, {4}, {5}, {10}, {11}, {12}, {13}, {14}, {15}}
	y := []float64{0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1}
	folds := []split.Fold{
		// Validation holds both classes.
		{Train: []int{0, 1, 2, 6, 7, 8}, Valid: []int{3, 4, 5, 9, 10, 11}},
		// Validation holds no positive label.
		{Train: []int{0, 1, 2, 6, 7, 8, 9, 10, 11}, Valid: []int{3, 4, 5}},
	}
	p := Params{Trees: 25, MinSamplesSplit: 2, MinSamplesLeaf: 1, Criterion: "gini"}

	trial, err := (&GridSearch{Seed: 3}).runTrial(context.Background(), 0, p, PositiveF1, folds, X, y)
	require.NoError(t, err)
	require.True(t, trial.Valid)
	assert.Equal(t, []float64{1, 0}, trial.FoldScores)
	assert.Equal(t, 0.5, trial.Mean)

	trial, err = (&GridSearch{Seed: 3}).runTrial(context.Background(), 0, p, PositiveF1, folds[1:], X, y)
	require.NoError(t, err)
	assert.False(t, trial.Valid)
	assert.True(t, math.IsNaN(trial.Mean))
}

func TestPositiveF1(t *testing.T) {
	score, ok := PositiveF1([]float64{0, 1}, []float64{0, 1})
	assert.True(t, ok)
	assert.Equal(t, 1.0, score)

	_, ok = PositiveF1([]float64{0, 0}, []float64{0, 1})
	assert.False(t, ok)
}

func TestLoadGrid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`grid:
  trees: [50, 100]
  max_depth: [null, 3]
  min_samples_split: [2]
  min_samples_leaf: [1]
  criterion: [entropy]
`), 0o644))

	s, err := LoadGrid(path)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Size())
	assert.Equal(t, []int{0, 3}, s.MaxDepth)

	got, err := SpaceFromConfig(config.SearchConfig{GridFile: path})
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestLoadGrid_Errors(t *testing.T) {
	_, err := LoadGrid(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grid:\n  trees: [10]\n"), 0o644))
	_, err = LoadGrid(path)
	assert.ErrorContains(t, err, "at least one configuration")

	path = filepath.Join(t.TempDir(), "typo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`grid:
  trees: [10]
  max_depth: [null]
  min_samples_split: [2]
  min_samples_leaf: [1]
  criterion: [Gini]
`), 0o644))
	_, err = LoadGrid(path)
	assert.ErrorContains(t, err, `criterion "Gini" must be gini or entropy`)
}
