package learn

import (
	"errors"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// KindLinearRegression identifies LinearModel payloads.
const KindLinearRegression = "linear_regression"

// LinearRegression fits ordinary least squares with an intercept.
type LinearRegression struct{}

// Name implements Estimator.
func (LinearRegression) Name() string { return "Linear Regression" }

// Params implements Estimator.
func (LinearRegression) Params() map[string]any { return map[string]any{"fit_intercept": true} }

// Fit solves the least squares problem [1 X] beta = y.
func (LinearRegression) Fit(X [][]float64, y []float64) (Model, error) {
	p, err := checkFit(X, y)
	if err != nil {
		return nil, err
	}

	n := len(X)
	A := mat.NewDense(n, p+1, nil)
	for i, row := range X {
		A.Set(i, 0, 1)
		for j, v := range row {
			A.Set(i, j+1, v)
		}
	}
	b := mat.NewVecDense(n, append([]float64(nil), y...))

	var beta mat.VecDense
	if err := beta.SolveVec(A, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, eris.Wrap(err, "learn: linear regression solve")
		}
		zap.L().Warn("learn: ill-conditioned linear regression", zap.Float64("condition", float64(cond)))
	}

	m := &LinearModel{Intercept: beta.AtVec(0), Coef: make([]float64, p)}
	for j := 0; j < p; j++ {
		m.Coef[j] = beta.AtVec(j + 1)
	}
	if math.IsNaN(m.Intercept) || math.IsInf(m.Intercept, 0) {
		return nil, eris.New("learn: linear regression: singular design matrix")
	}
	for _, c := range m.Coef {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, eris.New("learn: linear regression: singular design matrix")
		}
	}
	return m, nil
}

// LinearModel is a fitted linear predictor.
type LinearModel struct {
	Intercept float64   `json:"intercept"`
	Coef      []float64 `json:"coef"`
}

// Kind implements Model.
func (m *LinearModel) Kind() string { return KindLinearRegression }

// NumFeatures implements Model.
func (m *LinearModel) NumFeatures() int { return len(m.Coef) }

// Predict implements Model.
func (m *LinearModel) Predict(X [][]float64) ([]float64, error) {
	if err := checkPredict(len(m.Coef), X); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		v := m.Intercept
		for j, x := range row {
			v += m.Coef[j] * x
		}
		out[i] = v
	}
	return out, nil
}
