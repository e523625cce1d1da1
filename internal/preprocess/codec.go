package preprocess

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Encode serializes a fitted transform.
func Encode(t Transform) (string, json.RawMessage, error) {
	switch t.(type) {
	case *StandardScaler:
	default:
		return "", nil, eris.Errorf("preprocess: encode unknown transform kind %q", t.Kind())
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return "", nil, eris.Wrapf(err, "preprocess: encode %s", t.Kind())
	}
	return t.Kind(), raw, nil
}

// Decode rebuilds a transform of the given kind.
func Decode(kind string, raw []byte) (Transform, error) {
	switch kind {
	case KindStandardScaler:
		var s StandardScaler
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, eris.Wrapf(err, "preprocess: decode %s", kind)
		}
		n := len(s.FeatureNames)
		if n == 0 || len(s.Mean) != n || len(s.Scale) != n {
			return nil, eris.Errorf("preprocess: decoded %s has %d features, %d means, %d scales", kind, n, len(s.Mean), len(s.Scale))
		}
		return &s, nil
	default:
		return nil, eris.Errorf("preprocess: decode unknown transform kind %q", kind)
	}
}
