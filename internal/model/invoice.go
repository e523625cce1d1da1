package model

import "time"

// InvoiceRecord is one row of the vendor_invoice table.
type InvoiceRecord struct {
	Quantity    int64      `json:"quantity" csv:"Quantity"`
	Dollars     float64    `json:"dollars" csv:"Dollars"`
	Freight     float64    `json:"freight" csv:"Freight"`
	PONumber    *int64     `json:"po_number,omitempty" csv:"PONumber,omitempty"`
	PODate      *time.Time `json:"po_date,omitempty" csv:"-"`
	InvoiceDate *time.Time `json:"invoice_date,omitempty" csv:"-"`
	PayDate     *time.Time `json:"pay_date,omitempty" csv:"-"`
}

// PurchaseOrderAggregate summarizes the purchase line items of one PO.
type PurchaseOrderAggregate struct {
	PONumber          int64   `json:"po_number"`
	TotalBrands       int64   `json:"total_brands"`
	TotalItemQuantity float64 `json:"total_item_quantity"`
	TotalItemDollars  float64 `json:"total_item_dollars"`
	// AvgReceivingDelay is nil when no line of the PO has both dates.
	AvgReceivingDelay *float64 `json:"avg_receiving_delay,omitempty"`
}

// JoinedRiskRecord is an invoice left-joined to its PO aggregate.
// PO is nil when the invoice has no matching purchase order.
type JoinedRiskRecord struct {
	Invoice         InvoiceRecord           `json:"invoice"`
	DaysPOToInvoice *float64                `json:"days_po_to_invoice,omitempty"`
	DaysToPay       *float64                `json:"days_to_pay,omitempty"`
	PO              *PurchaseOrderAggregate `json:"po,omitempty"`
}

// PurchaseLine is one row of the purchases table.
type PurchaseLine struct {
	PONumber      int64   `csv:"PONumber"`
	Brand         int64   `csv:"Brand"`
	Quantity      float64 `csv:"Quantity"`
	Dollars       float64 `csv:"Dollars"`
	PODate        string  `csv:"PODate"`
	ReceivingDate string  `csv:"ReceivingDate"`
}

// InvoiceRow is the CSV shape of a vendor_invoice row. Dates stay as
// ISO strings so SQLite's julianday can read them unchanged.
type InvoiceRow struct {
	PONumber    *int64  `csv:"PONumber,omitempty"`
	PODate      string  `csv:"PODate"`
	InvoiceDate string  `csv:"InvoiceDate"`
	PayDate     string  `csv:"PayDate"`
	Quantity    int64   `csv:"Quantity"`
	Dollars     float64 `csv:"Dollars"`
	Freight     float64 `csv:"Freight"`
}
