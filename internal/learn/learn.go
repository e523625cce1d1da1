// Package learn implements the candidate estimators: ordinary least squares,
// CART decision trees and bagged random forests. Every estimator is
// deterministic given its seed, and every fitted model is bound to the
// feature count it was trained with.
package learn

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-intel/internal/model"
)

// Model is a fitted predictor.
type Model interface {
	Kind() string
	NumFeatures() int
	// Predict returns one value per row of X. Rows must have exactly
	// NumFeatures values.
	Predict(X [][]float64) ([]float64, error)
}

// ProbaModel is a classifier that can report class probabilities.
type ProbaModel interface {
	Model
	PredictProba(X [][]float64) ([][]float64, error)
}

// Estimator fits a Model from training data.
type Estimator interface {
	Name() string
	Params() map[string]any
	Fit(X [][]float64, y []float64) (Model, error)
}

// checkFit validates training inputs and returns the feature count.
func checkFit(X [][]float64, y []float64) (int, error) {
	if len(X) == 0 {
		return 0, eris.Wrap(model.ErrShapeMismatch, "learn: no training rows")
	}
	if len(X) != len(y) {
		return 0, eris.Wrapf(model.ErrShapeMismatch, "learn: %d rows but %d targets", len(X), len(y))
	}
	p := len(X[0])
	if p == 0 {
		return 0, eris.Wrap(model.ErrShapeMismatch, "learn: rows have no features")
	}
	for i, row := range X {
		if len(row) != p {
			return 0, eris.Wrapf(model.ErrShapeMismatch, "learn: row %d has %d values, expected %d", i, len(row), p)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, eris.Wrapf(model.ErrShapeMismatch, "learn: row %d has a non-finite value", i)
			}
		}
	}
	return p, nil
}

// checkPredict validates X against a fitted feature count.
func checkPredict(p int, X [][]float64) error {
	for i, row := range X {
		if len(row) != p {
			return eris.Wrapf(model.ErrShapeMismatch, "learn: row %d has %d values, model expects %d", i, len(row), p)
		}
	}
	return nil
}
