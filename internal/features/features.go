// Package features turns invoice records into model-ready matrices and
// derives the invoice risk label.
package features

import (
	"math"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-intel/internal/config"
	"github.com/sells-group/invoice-intel/internal/model"
)

// Dataset is a feature matrix with its target column. Columns of X follow
// Features exactly.
type Dataset struct {
	Features []string
	Target   string
	X        [][]float64
	Y        []float64
}

// Len returns the number of rows.
func (d Dataset) Len() int { return len(d.X) }

// BuildFreight projects invoices onto the freight schema: Dollars in,
// Freight out.
func BuildFreight(records []model.InvoiceRecord) (Dataset, error) {
	if len(records) == 0 {
		return Dataset{}, eris.Wrap(model.ErrDataUnavailable, "features: no invoice rows")
	}
	ds := Dataset{
		Features: model.TaskFreight.Features(),
		Target:   model.ColFreight,
		X:        make([][]float64, 0, len(records)),
		Y:        make([]float64, 0, len(records)),
	}
	for i, r := range records {
		if !finite(r.Dollars) || !finite(r.Freight) {
			return Dataset{}, eris.Wrapf(model.ErrShapeMismatch, "features: invoice %d has a non-finite value", i)
		}
		ds.X = append(ds.X, []float64{r.Dollars})
		ds.Y = append(ds.Y, r.Freight)
	}
	return ds, nil
}

// Labeler applies the invoice risk rule: an invoice is flagged when its
// total differs from the sum of its PO lines by more than the mismatch
// threshold, or when the PO's average receiving delay exceeds the delay
// threshold. Both comparisons are strict.
type Labeler struct {
	MismatchThreshold  decimal.Decimal
	DelayThresholdDays float64
}

// NewLabeler builds a Labeler from config.
func NewLabeler(cfg config.LabelingConfig) Labeler {
	return Labeler{
		MismatchThreshold:  decimal.NewFromFloat(cfg.MismatchThreshold),
		DelayThresholdDays: cfg.DelayThresholdDays,
	}
}

// Label returns the risk label and whether it could be decided. A nil delay
// only decides the label when the dollar mismatch already flags the invoice.
func (l Labeler) Label(invoiceDollars, totalItemDollars float64, avgDelay *float64) (int, bool) {
	// Currency amounts are compared in decimal so that a difference of
	// exactly the threshold stays at the threshold.
	diff := decimal.NewFromFloat(invoiceDollars).Sub(decimal.NewFromFloat(totalItemDollars)).Abs()
	if diff.GreaterThan(l.MismatchThreshold) {
		return 1, true
	}
	if avgDelay == nil {
		return 0, false
	}
	if *avgDelay > l.DelayThresholdDays {
		return 1, true
	}
	return 0, true
}

// RiskBuildStats describes how the joined records were consumed.
type RiskBuildStats struct {
	Total    int `json:"total"`
	Kept     int `json:"kept"`
	Excluded int `json:"excluded"`
	Positive int `json:"positive"`
}

// Builder builds the invoice_flag dataset.
type Builder struct {
	Labeler Labeler
	// NullPolicy is config.NullPolicyExclude or config.NullPolicyFail.
	NullPolicy string
}

// NewBuilder builds a Builder from config.
func NewBuilder(cfg config.LabelingConfig) *Builder {
	return &Builder{Labeler: NewLabeler(cfg), NullPolicy: cfg.NullAggregatePolicy}
}

// BuildRisk labels the joined records and projects them onto the risk
// schema. Records without a matching PO, or whose label cannot be decided,
// are dropped or rejected according to NullPolicy.
func (b *Builder) BuildRisk(records []model.JoinedRiskRecord) (Dataset, RiskBuildStats, error) {
	stats := RiskBuildStats{Total: len(records)}
	if len(records) == 0 {
		return Dataset{}, stats, eris.Wrap(model.ErrDataUnavailable, "features: no joined invoice rows")
	}

	ds := Dataset{
		Features: model.TaskInvoiceFlag.Features(),
		Target:   model.ColFlagInvoice,
		X:        make([][]float64, 0, len(records)),
		Y:        make([]float64, 0, len(records)),
	}

	for i, r := range records {
		label, ok := 0, r.PO != nil
		if ok {
			label, ok = b.Labeler.Label(r.Invoice.Dollars, r.PO.TotalItemDollars, r.PO.AvgReceivingDelay)
		}
		if !ok {
			if b.NullPolicy == config.NullPolicyFail {
				return Dataset{}, stats, eris.Wrapf(model.ErrLabelingAmbiguous,
					"features: record %d (po %s) has null aggregates", i, poString(r.Invoice.PONumber))
			}
			stats.Excluded++
			continue
		}

		row := []float64{
			float64(r.Invoice.Quantity),
			r.Invoice.Dollars,
			r.Invoice.Freight,
			r.PO.TotalItemQuantity,
			r.PO.TotalItemDollars,
		}
		for _, v := range row {
			if !finite(v) {
				return Dataset{}, stats, eris.Wrapf(model.ErrShapeMismatch, "features: record %d has a non-finite value", i)
			}
		}
		ds.X = append(ds.X, row)
		ds.Y = append(ds.Y, float64(label))
		stats.Kept++
		stats.Positive += label
	}

	if stats.Excluded > 0 {
		zap.L().Info("features: excluded records with null aggregates",
			zap.Int("excluded", stats.Excluded),
			zap.Int("kept", stats.Kept),
		)
	}
	if stats.Kept == 0 {
		return Dataset{}, stats, eris.Wrap(model.ErrDataUnavailable, "features: every joined record was excluded")
	}
	return ds, stats, nil
}

func poString(po *int64) string {
	if po == nil {
		return "none"
	}
	return strconv.FormatInt(*po, 10)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
