package learn

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-intel/internal/split"
)

// Model kinds for tree-based predictors.
const (
	KindDecisionTreeRegressor  = "decision_tree_regressor"
	KindRandomForestRegressor  = "random_forest_regressor"
	KindRandomForestClassifier = "random_forest_classifier"
)

// DecisionTreeRegressor fits a single CART regression tree.
type DecisionTreeRegressor struct {
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	Seed            uint64
}

// Name implements Estimator.
func (e DecisionTreeRegressor) Name() string { return "Decision Tree Regressor" }

// Params implements Estimator.
func (e DecisionTreeRegressor) Params() map[string]any {
	return map[string]any{"max_depth": e.MaxDepth, "random_state": e.Seed}
}

// Fit implements Estimator.
func (e DecisionTreeRegressor) Fit(X [][]float64, y []float64) (Model, error) {
	p, err := checkFit(X, y)
	if err != nil {
		return nil, err
	}
	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	tree, err := growTree(X, y, idx, treeParams{
		Criterion:       CriterionMSE,
		MaxDepth:        e.MaxDepth,
		MinSamplesSplit: orDefault(e.MinSamplesSplit, 2),
		MinSamplesLeaf:  orDefault(e.MinSamplesLeaf, 1),
	}, split.NewRand(e.Seed))
	if err != nil {
		return nil, eris.Wrap(err, "learn: decision tree")
	}
	return &TreeModel{Features: p, Tree: *tree}, nil
}

// TreeModel is a fitted single regression tree.
type TreeModel struct {
	Features int  `json:"n_features"`
	Tree     Tree `json:"tree"`
}

// Kind implements Model.
func (m *TreeModel) Kind() string { return KindDecisionTreeRegressor }

// NumFeatures implements Model.
func (m *TreeModel) NumFeatures() int { return m.Features }

// Predict implements Model.
func (m *TreeModel) Predict(X [][]float64) ([]float64, error) {
	if err := checkPredict(m.Features, X); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = m.Tree.leaf(row).Value[0]
	}
	return out, nil
}

// RandomForestRegressor bags regression trees over bootstrap samples.
// Every feature is considered at each split.
type RandomForestRegressor struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	Seed            uint64
}

// Name implements Estimator.
func (e RandomForestRegressor) Name() string { return "Random Forest Regressor" }

// Params implements Estimator.
func (e RandomForestRegressor) Params() map[string]any {
	return map[string]any{"n_estimators": e.Trees, "max_depth": e.MaxDepth, "random_state": e.Seed}
}

// Fit implements Estimator.
func (e RandomForestRegressor) Fit(X [][]float64, y []float64) (Model, error) {
	p, err := checkFit(X, y)
	if err != nil {
		return nil, err
	}
	trees, err := growForest(X, y, orDefault(e.Trees, 100), e.Seed, treeParams{
		Criterion:       CriterionMSE,
		MaxDepth:        e.MaxDepth,
		MinSamplesSplit: orDefault(e.MinSamplesSplit, 2),
		MinSamplesLeaf:  orDefault(e.MinSamplesLeaf, 1),
	})
	if err != nil {
		return nil, eris.Wrap(err, "learn: random forest regressor")
	}
	return &ForestRegressorModel{Features: p, Trees: trees}, nil
}

// ForestRegressorModel averages the predictions of its trees.
type ForestRegressorModel struct {
	Features int    `json:"n_features"`
	Trees    []Tree `json:"trees"`
}

// Kind implements Model.
func (m *ForestRegressorModel) Kind() string { return KindRandomForestRegressor }

// NumFeatures implements Model.
func (m *ForestRegressorModel) NumFeatures() int { return m.Features }

// Predict implements Model.
func (m *ForestRegressorModel) Predict(X [][]float64) ([]float64, error) {
	if err := checkPredict(m.Features, X); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		var sum float64
		for t := range m.Trees {
			sum += m.Trees[t].leaf(row).Value[0]
		}
		out[i] = sum / float64(len(m.Trees))
	}
	return out, nil
}

// RandomForestClassifier bags classification trees over bootstrap samples,
// considering sqrt(features) candidates per split. MaxDepth 0 is unbounded.
type RandomForestClassifier struct {
	Trees           int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	Criterion       string
	Seed            uint64
}

// Name implements Estimator.
func (e RandomForestClassifier) Name() string { return "Random Forest Classifier" }

// Params implements Estimator.
func (e RandomForestClassifier) Params() map[string]any {
	var depth any = e.MaxDepth
	if e.MaxDepth == 0 {
		depth = nil
	}
	return map[string]any{
		"n_estimators":      e.Trees,
		"max_depth":         depth,
		"min_samples_split": e.MinSamplesSplit,
		"min_samples_leaf":  e.MinSamplesLeaf,
		"criterion":         e.Criterion,
		"random_state":      e.Seed,
	}
}

// Fit implements Estimator. Labels must be non-negative integers.
func (e RandomForestClassifier) Fit(X [][]float64, y []float64) (Model, error) {
	p, err := checkFit(X, y)
	if err != nil {
		return nil, err
	}
	nClasses := 2
	for i, label := range y {
		if label < 0 || label != math.Trunc(label) {
			return nil, eris.Errorf("learn: label %v at row %d is not a class index", label, i)
		}
		nClasses = max(nClasses, int(label)+1)
	}
	criterion := e.Criterion
	if criterion == "" {
		criterion = CriterionGini
	}
	trees, err := growForest(X, y, orDefault(e.Trees, 100), e.Seed, treeParams{
		Criterion:       criterion,
		MaxDepth:        e.MaxDepth,
		MinSamplesSplit: orDefault(e.MinSamplesSplit, 2),
		MinSamplesLeaf:  orDefault(e.MinSamplesLeaf, 1),
		MaxFeatures:     max(1, int(math.Sqrt(float64(p)))),
		NClasses:        nClasses,
	})
	if err != nil {
		return nil, eris.Wrap(err, "learn: random forest classifier")
	}
	return &ForestClassifierModel{Features: p, Classes: nClasses, Trees: trees}, nil
}

// ForestClassifierModel averages per-tree class probabilities and predicts
// the most probable class; ties go to the lower class index.
type ForestClassifierModel struct {
	Features int    `json:"n_features"`
	Classes  int    `json:"n_classes"`
	Trees    []Tree `json:"trees"`
}

// Kind implements Model.
func (m *ForestClassifierModel) Kind() string { return KindRandomForestClassifier }

// NumFeatures implements Model.
func (m *ForestClassifierModel) NumFeatures() int { return m.Features }

// PredictProba implements ProbaModel.
func (m *ForestClassifierModel) PredictProba(X [][]float64) ([][]float64, error) {
	if err := checkPredict(m.Features, X); err != nil {
		return nil, err
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		proba := make([]float64, m.Classes)
		for t := range m.Trees {
			for c, v := range m.Trees[t].leaf(row).Value {
				proba[c] += v
			}
		}
		for c := range proba {
			proba[c] /= float64(len(m.Trees))
		}
		out[i] = proba
	}
	return out, nil
}

// Predict implements Model.
func (m *ForestClassifierModel) Predict(X [][]float64) ([]float64, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(proba))
	for i, p := range proba {
		best := 0
		for c := 1; c < len(p); c++ {
			if p[c] > p[best] {
				best = c
			}
		}
		out[i] = float64(best)
	}
	return out, nil
}

// growForest fits n trees, each on its own bootstrap sample. Per-tree
// seeds are drawn up front from seed so the result is reproducible.
func growForest(X [][]float64, y []float64, n int, seed uint64, params treeParams) ([]Tree, error) {
	rng := split.NewRand(seed)
	seeds := make([]uint64, n)
	for i := range seeds {
		seeds[i] = rng.Uint64()
	}

	trees := make([]Tree, n)
	rows := len(X)
	for t := 0; t < n; t++ {
		treeRng := split.NewRand(seeds[t])
		sample := make([]int, rows)
		for i := range sample {
			sample[i] = treeRng.IntN(rows)
		}
		tree, err := growTree(X, y, sample, params, treeRng)
		if err != nil {
			return nil, err
		}
		trees[t] = *tree
	}
	return trees, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
