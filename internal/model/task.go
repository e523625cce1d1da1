package model

import "github.com/rotisserie/eris"

// TaskID names one of the independent prediction problems.
type TaskID string

const (
	TaskFreight     TaskID = "freight"
	TaskInvoiceFlag TaskID = "invoice_flag"
)

// Feature and target column names. These are part of the model contract:
// inference inputs must use the same names.
const (
	ColDollars           = "Dollars"
	ColFreight           = "Freight"
	ColQuantity          = "Quantity"
	ColInvoiceQuantity   = "invoice_quantity"
	ColInvoiceDollars    = "invoice_dollars"
	ColTotalItemQuantity = "total_item_quantity"
	ColTotalItemDollars  = "total_item_dollars"
	ColFlagInvoice       = "flag_invoice"

	OutPredictedFreight = "Predicted_Freight"
	OutPredictedFlag    = "Predicted_Flag"
)

// FreightFeatures is the ordered feature schema of the freight model.
var FreightFeatures = []string{ColDollars}

// RiskFeatures is the ordered feature schema of the invoice_flag model.
var RiskFeatures = []string{
	ColInvoiceQuantity,
	ColInvoiceDollars,
	ColFreight,
	ColTotalItemQuantity,
	ColTotalItemDollars,
}

// AllTasks lists every task in training order.
var AllTasks = []TaskID{TaskFreight, TaskInvoiceFlag}

// ParseTask validates a task id string.
func ParseTask(s string) (TaskID, error) {
	switch TaskID(s) {
	case TaskFreight, TaskInvoiceFlag:
		return TaskID(s), nil
	default:
		return "", eris.Wrapf(ErrUnknownTask, "task %q", s)
	}
}

// OutputField returns the prediction column a task writes.
func (t TaskID) OutputField() string {
	if t == TaskInvoiceFlag {
		return OutPredictedFlag
	}
	return OutPredictedFreight
}

// Features returns a copy of the task's ordered feature schema.
func (t TaskID) Features() []string {
	var src []string
	switch t {
	case TaskFreight:
		src = FreightFeatures
	case TaskInvoiceFlag:
		src = RiskFeatures
	}
	return append([]string(nil), src...)
}
