package features

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-intel/internal/config"
	"github.com/sells-group/invoice-intel/internal/model"
)

func ptr[T any](v T) *T { return &v }

func defaultLabeler() Labeler {
	return NewLabeler(config.Default().Labeling)
}

func TestLabeler_Rule(t *testing.T) {
	l := defaultLabeler()
	tests := []struct {
		name    string
		invoice float64
		items   float64
		delay   *float64
		want    int
		decided bool
	}{
		{"mismatch over threshold", 100, 94, ptr(2.0), 1, true},
		{"mismatch under threshold", 100, 98, ptr(2.0), 0, true},
		{"mismatch exactly threshold", 100, 95, ptr(2.0), 0, true},
		{"mismatch exactly threshold in cents", 10.10, 5.10, ptr(0.0), 0, true},
		{"negative mismatch", 94, 100, ptr(2.0), 1, true},
		{"delay over threshold", 100, 100, ptr(10.5), 1, true},
		{"delay exactly threshold", 100, 100, ptr(10.0), 0, true},
		{"nil delay with mismatch", 100, 50, nil, 1, true},
		{"nil delay without mismatch", 100, 100, nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := l.Label(tt.invoice, tt.items, tt.delay)
			assert.Equal(t, tt.decided, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLabeler_CustomThresholds(t *testing.T) {
	l := Labeler{MismatchThreshold: decimal.NewFromInt(1), DelayThresholdDays: 3}
	got, ok := l.Label(100, 98, ptr(2.0))
	require.True(t, ok)
	assert.Equal(t, 1, got)

	got, ok = l.Label(100, 100, ptr(4.0))
	require.True(t, ok)
	assert.Equal(t, 1, got)
}

func TestBuildFreight(t *testing.T) {
	ds, err := BuildFreight([]model.InvoiceRecord{
		{Quantity: 10, Dollars: 214.26, Freight: 3.47},
		{Quantity: 2, Dollars: 50, Freight: 0.8},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Dollars"}, ds.Features)
	assert.Equal(t, "Freight", ds.Target)
	assert.Equal(t, [][]float64{{214.26}, {50}}, ds.X)
	assert.Equal(t, []float64{3.47, 0.8}, ds.Y)
	assert.Equal(t, 2, ds.Len())
}

func TestBuildFreight_Errors(t *testing.T) {
	_, err := BuildFreight(nil)
	assert.ErrorIs(t, err, model.ErrDataUnavailable)

	_, err = BuildFreight([]model.InvoiceRecord{{Dollars: math.NaN()}})
	assert.ErrorIs(t, err, model.ErrShapeMismatch)
}

func riskRecords() []model.JoinedRiskRecord {
	return []model.JoinedRiskRecord{
		{
			Invoice: model.InvoiceRecord{Quantity: 10, Dollars: 100, Freight: 2, PONumber: ptr(int64(1))},
			PO:      &model.PurchaseOrderAggregate{PONumber: 1, TotalItemQuantity: 10, TotalItemDollars: 94, AvgReceivingDelay: ptr(2.0)},
		},
		{
			Invoice: model.InvoiceRecord{Quantity: 5, Dollars: 100, Freight: 1, PONumber: ptr(int64(2))},
			PO:      &model.PurchaseOrderAggregate{PONumber: 2, TotalItemQuantity: 5, TotalItemDollars: 98, AvgReceivingDelay: ptr(2.0)},
		},
		{
			Invoice: model.InvoiceRecord{Quantity: 3, Dollars: 40, Freight: 0.5, PONumber: ptr(int64(3))},
		},
	}
}

func TestBuildRisk_Exclude(t *testing.T) {
	b := NewBuilder(config.Default().Labeling)
	ds, stats, err := b.BuildRisk(riskRecords())
	require.NoError(t, err)

	assert.Equal(t, model.RiskFeatures, ds.Features)
	assert.Equal(t, "flag_invoice", ds.Target)
	assert.Equal(t, [][]float64{{10, 100, 2, 10, 94}, {5, 100, 1, 5, 98}}, ds.X)
	assert.Equal(t, []float64{1, 0}, ds.Y)
	assert.Equal(t, RiskBuildStats{Total: 3, Kept: 2, Excluded: 1, Positive: 1}, stats)
}

func TestBuildRisk_Fail(t *testing.T) {
	cfg := config.Default().Labeling
	cfg.NullAggregatePolicy = config.NullPolicyFail
	_, _, err := NewBuilder(cfg).BuildRisk(riskRecords())
	assert.ErrorIs(t, err, model.ErrLabelingAmbiguous)
}

func TestBuildRisk_AllExcluded(t *testing.T) {
	b := NewBuilder(config.Default().Labeling)
	_, stats, err := b.BuildRisk(riskRecords()[2:])
	assert.ErrorIs(t, err, model.ErrDataUnavailable)
	assert.Equal(t, 1, stats.Excluded)
}

func TestBuildRisk_Empty(t *testing.T) {
	_, _, err := NewBuilder(config.Default().Labeling).BuildRisk(nil)
	assert.ErrorIs(t, err, model.ErrDataUnavailable)
}
