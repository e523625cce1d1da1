// Package store reads invoice and purchase data for training and loads raw
// tables for import.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-intel/internal/config"
	"github.com/sells-group/invoice-intel/internal/model"
)

// Store is the data access layer behind training.
type Store interface {
	// Invoices returns every vendor_invoice row.
	Invoices(ctx context.Context) ([]model.InvoiceRecord, error)
	// RiskRecords returns every invoice left-joined to its PO aggregate.
	RiskRecords(ctx context.Context) ([]model.JoinedRiskRecord, error)

	// Import
	ImportInvoices(ctx context.Context, rows []model.InvoiceRow) (int64, error)
	ImportPurchases(ctx context.Context, rows []model.PurchaseLine) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured data source.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, cfg.MaxConns)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// unavailable reports a data source failure as model.ErrDataUnavailable.
func unavailable(err error, action string) error {
	return eris.Wrapf(model.ErrDataUnavailable, "%s: %v", action, err)
}

// dateLayouts are the accepted spellings of a stored date.
var dateLayouts = []string{time.DateOnly, time.RFC3339, "2006-01-02 15:04:05"}

// parseDate parses an optional date column. Blank means absent.
func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, eris.Errorf("store: unrecognized date %q", s)
}
