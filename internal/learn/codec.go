package learn

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// decoders maps a model kind to a constructor for its payload type.
var decoders = map[string]func() Model{
	KindLinearRegression:       func() Model { return &LinearModel{} },
	KindDecisionTreeRegressor:  func() Model { return &TreeModel{} },
	KindRandomForestRegressor:  func() Model { return &ForestRegressorModel{} },
	KindRandomForestClassifier: func() Model { return &ForestClassifierModel{} },
}

// Encode serializes m. Floats are written in shortest round-trip form, so
// Decode(Encode(m)) predicts bit-identically.
func Encode(m Model) (string, json.RawMessage, error) {
	if _, ok := decoders[m.Kind()]; !ok {
		return "", nil, eris.Errorf("learn: encode unknown model kind %q", m.Kind())
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", nil, eris.Wrapf(err, "learn: encode %s", m.Kind())
	}
	return m.Kind(), raw, nil
}

// Decode rebuilds a model of the given kind from its payload.
func Decode(kind string, raw []byte) (Model, error) {
	newModel, ok := decoders[kind]
	if !ok {
		return nil, eris.Errorf("learn: decode unknown model kind %q", kind)
	}
	m := newModel()
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, eris.Wrapf(err, "learn: decode %s", kind)
	}
	if m.NumFeatures() <= 0 {
		return nil, eris.Errorf("learn: decoded %s has no features", kind)
	}
	return m, nil
}
