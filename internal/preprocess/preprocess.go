// Package preprocess fits feature transforms on a training partition and
// reapplies them, unchanged, to evaluation and inference inputs.
package preprocess

import (
	"math"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/invoice-intel/internal/model"
)

// Transform is a fitted, immutable feature transform.
type Transform interface {
	Kind() string
	// Features returns the ordered schema the transform was fitted on.
	Features() []string
	// Apply returns a transformed copy of X. It fails with
	// model.ErrShapeMismatch when features or row arity differ from the
	// fitted schema.
	Apply(features []string, X [][]float64) ([][]float64, error)
}

// Fitter learns a Transform from training data.
type Fitter interface {
	Fit(features []string, X [][]float64) (Transform, error)
}

// KindStandardScaler identifies StandardScaler payloads.
const KindStandardScaler = "standard_scaler"

// StandardScaler centers and scales each feature by training statistics.
// Scale is the population standard deviation; constant features get 1.
type StandardScaler struct {
	FeatureNames []string  `json:"features"`
	Mean         []float64 `json:"mean"`
	Scale        []float64 `json:"scale"`
}

// StandardScalerFitter fits StandardScaler transforms.
type StandardScalerFitter struct{}

// Fit computes per-feature mean and scale over X.
func (StandardScalerFitter) Fit(features []string, X [][]float64) (Transform, error) {
	if len(features) == 0 {
		return nil, eris.Wrap(model.ErrShapeMismatch, "preprocess: fit with no features")
	}
	if len(X) == 0 {
		return nil, eris.Wrap(model.ErrShapeMismatch, "preprocess: fit on empty partition")
	}
	if err := CheckRows(len(features), X); err != nil {
		return nil, eris.Wrap(err, "preprocess: fit")
	}

	s := &StandardScaler{
		FeatureNames: append([]string(nil), features...),
		Mean:         make([]float64, len(features)),
		Scale:        make([]float64, len(features)),
	}
	col := make([]float64, len(X))
	for j := range features {
		for i, row := range X {
			col[i] = row[j]
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		s.Mean[j] = mean
		sd := math.Sqrt(variance)
		if sd == 0 || math.IsNaN(sd) {
			sd = 1
		}
		s.Scale[j] = sd
	}
	return s, nil
}

// Kind implements Transform.
func (s *StandardScaler) Kind() string { return KindStandardScaler }

// Features implements Transform.
func (s *StandardScaler) Features() []string {
	return append([]string(nil), s.FeatureNames...)
}

// Apply implements Transform.
func (s *StandardScaler) Apply(features []string, X [][]float64) ([][]float64, error) {
	if err := CheckSchema(s.FeatureNames, features); err != nil {
		return nil, eris.Wrap(err, "preprocess: apply standard scaler")
	}
	if err := CheckRows(len(s.FeatureNames), X); err != nil {
		return nil, eris.Wrap(err, "preprocess: apply standard scaler")
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = scaled
	}
	return out, nil
}

// CheckSchema verifies got matches want in count and order.
func CheckSchema(want, got []string) error {
	if len(want) != len(got) {
		return eris.Wrapf(model.ErrShapeMismatch, "expected %d features %v, got %d %v", len(want), want, len(got), got)
	}
	for i := range want {
		if want[i] != got[i] {
			return eris.Wrapf(model.ErrShapeMismatch, "feature %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	return nil
}

// CheckRows verifies every row of X has width columns.
func CheckRows(width int, X [][]float64) error {
	for i, row := range X {
		if len(row) != width {
			return eris.Wrapf(model.ErrShapeMismatch, "row %d has %d values, expected %d", i, len(row), width)
		}
	}
	return nil
}
