package preprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-intel/internal/model"
)

var testFeatures = []string{"a", "b", "c"}

func trainMatrix() [][]float64 {
	return [][]float64{
		{1, 10, 7},
		{2, 20, 7},
		{3, 30, 7},
		{4, 40, 7},
	}
}

func TestStandardScaler_Fit(t *testing.T) {
	tr, err := StandardScalerFitter{}.Fit(testFeatures, trainMatrix())
	require.NoError(t, err)

	s := tr.(*StandardScaler)
	assert.Equal(t, KindStandardScaler, s.Kind())
	assert.Equal(t, testFeatures, s.Features())
	assert.InDeltaSlice(t, []float64{2.5, 25, 7}, s.Mean, 1e-12)
	// Population std of 1..4 is sqrt(1.25).
	assert.InDelta(t, 1.118033988749895, s.Scale[0], 1e-12)
	assert.InDelta(t, 11.18033988749895, s.Scale[1], 1e-12)
	// Constant column keeps scale 1.
	assert.Equal(t, 1.0, s.Scale[2])
}

func TestStandardScaler_FitDeterministic(t *testing.T) {
	a, err := StandardScalerFitter{}.Fit(testFeatures, trainMatrix())
	require.NoError(t, err)
	b, err := StandardScalerFitter{}.Fit(testFeatures, trainMatrix())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStandardScaler_ApplyPreservesSchema(t *testing.T) {
	tr, err := StandardScalerFitter{}.Fit(testFeatures, trainMatrix())
	require.NoError(t, err)

	inside := trainMatrix()
	outside := [][]float64{{100, -5, 3}, {0, 0, 0}}
	for _, X := range [][][]float64{inside, outside} {
		out, err := tr.Apply(testFeatures, X)
		require.NoError(t, err)
		require.Len(t, out, len(X))
		for _, row := range out {
			assert.Len(t, row, len(testFeatures))
		}
	}

	out, err := tr.Apply(testFeatures, inside)
	require.NoError(t, err)
	var sum float64
	for _, row := range out {
		sum += row[0]
	}
	assert.InDelta(t, 0, sum, 1e-12)
	assert.Equal(t, 0.0, out[0][2])
}

func TestStandardScaler_ApplyDoesNotMutate(t *testing.T) {
	tr, err := StandardScalerFitter{}.Fit(testFeatures, trainMatrix())
	require.NoError(t, err)

	in := [][]float64{{5, 50, 7}}
	_, err = tr.Apply(testFeatures, in)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{5, 50, 7}}, in)
	assert.Equal(t, []float64{2.5, 25, 7}, tr.(*StandardScaler).Mean)
}

func TestStandardScaler_ApplyShapeMismatch(t *testing.T) {
	tr, err := StandardScalerFitter{}.Fit(testFeatures, trainMatrix())
	require.NoError(t, err)

	tests := []struct {
		name     string
		features []string
		X        [][]float64
	}{
		{"reordered", []string{"b", "a", "c"}, [][]float64{{1, 2, 3}}},
		{"missing", []string{"a", "b"}, [][]float64{{1, 2}}},
		{"extra", []string{"a", "b", "c", "d"}, [][]float64{{1, 2, 3, 4}}},
		{"short row", testFeatures, [][]float64{{1, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Apply(tt.features, tt.X)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrShapeMismatch)
		})
	}
}

func TestStandardScaler_FitErrors(t *testing.T) {
	_, err := StandardScalerFitter{}.Fit(testFeatures, nil)
	assert.ErrorIs(t, err, model.ErrShapeMismatch)

	_, err = StandardScalerFitter{}.Fit(nil, trainMatrix())
	assert.ErrorIs(t, err, model.ErrShapeMismatch)

	_, err = StandardScalerFitter{}.Fit(testFeatures, [][]float64{{1, 2}})
	assert.ErrorIs(t, err, model.ErrShapeMismatch)
}

func TestCodec_RoundTrip(t *testing.T) {
	fitted, err := StandardScalerFitter{}.Fit([]string{"a", "b"}, [][]float64{{1, 10}, {2, 20}, {4, 40}})
	require.NoError(t, err)

	kind, raw, err := Encode(fitted)
	require.NoError(t, err)
	assert.Equal(t, KindStandardScaler, kind)

	back, err := Decode(kind, raw)
	require.NoError(t, err)
	assert.Equal(t, fitted, back)

	x := [][]float64{{3, 33}}
	want, err := fitted.Apply([]string{"a", "b"}, x)
	require.NoError(t, err)
	got, err := back.Apply([]string{"a", "b"}, x)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCodec_Errors(t *testing.T) {
	_, err := Decode("min_max", []byte(`{}`))
	assert.Error(t, err)

	_, err = Decode(KindStandardScaler, []byte(`{"features":["a"],"mean":[1],"scale":[]}`))
	assert.Error(t, err)

	_, err = Decode(KindStandardScaler, []byte(`[`))
	assert.Error(t, err)
}
