package store

import (
	"database/sql"

	"github.com/sells-group/invoice-intel/internal/model"
)

// scannedRisk holds one row of the risk query before conversion. Both
// drivers select the same eleven columns in the same order.
type scannedRisk struct {
	quantity        int64
	dollars         float64
	freight         float64
	invoicePO       sql.NullInt64
	daysPOToInvoice sql.NullFloat64
	daysToPay       sql.NullFloat64
	aggPO           sql.NullInt64
	totalBrands     sql.NullInt64
	totalQuantity   sql.NullFloat64
	totalDollars    sql.NullFloat64
	avgDelay        sql.NullFloat64
}

func (s *scannedRisk) targets() []any {
	return []any{
		&s.quantity, &s.dollars, &s.freight, &s.invoicePO,
		&s.daysPOToInvoice, &s.daysToPay,
		&s.aggPO, &s.totalBrands, &s.totalQuantity, &s.totalDollars, &s.avgDelay,
	}
}

func (s *scannedRisk) record() model.JoinedRiskRecord {
	r := model.JoinedRiskRecord{
		Invoice: model.InvoiceRecord{
			Quantity: s.quantity,
			Dollars:  s.dollars,
			Freight:  s.freight,
		},
		DaysPOToInvoice: nullFloat(s.daysPOToInvoice),
		DaysToPay:       nullFloat(s.daysToPay),
	}
	if s.invoicePO.Valid {
		po := s.invoicePO.Int64
		r.Invoice.PONumber = &po
	}
	// The left join yields a NULL aggregate key when no purchases match.
	if s.aggPO.Valid {
		r.PO = &model.PurchaseOrderAggregate{
			PONumber:          s.aggPO.Int64,
			TotalBrands:       s.totalBrands.Int64,
			TotalItemQuantity: s.totalQuantity.Float64,
			TotalItemDollars:  s.totalDollars.Float64,
			AvgReceivingDelay: nullFloat(s.avgDelay),
		}
	}
	return r
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func setDates(r *model.InvoiceRecord, poDate, invoiceDate, payDate string) error {
	var err error
	if r.PODate, err = parseDate(poDate); err != nil {
		return err
	}
	if r.InvoiceDate, err = parseDate(invoiceDate); err != nil {
		return err
	}
	r.PayDate, err = parseDate(payDate)
	return err
}
