package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/invoice-intel/internal/db"
	"github.com/sells-group/invoice-intel/internal/model"
)

// PostgresStore implements Store using pgxpool. Identifiers are unquoted,
// so the PascalCase names of the SQLite schema fold to lower case.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns int32) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, maxConns)
	if err != nil {
		return nil, unavailable(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS vendor_invoice (
	id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	PONumber    BIGINT,
	PODate      DATE,
	InvoiceDate DATE,
	PayDate     DATE,
	Quantity    BIGINT NOT NULL,
	Dollars     DOUBLE PRECISION NOT NULL,
	Freight     DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS purchases (
	PONumber      BIGINT NOT NULL,
	Brand         BIGINT NOT NULL,
	Quantity      DOUBLE PRECISION NOT NULL,
	Dollars       DOUBLE PRECISION NOT NULL,
	PODate        DATE,
	ReceivingDate DATE
);

ALTER TABLE vendor_invoice ADD COLUMN IF NOT EXISTS id BIGINT GENERATED ALWAYS AS IDENTITY;

CREATE INDEX IF NOT EXISTS idx_vendor_invoice_po ON vendor_invoice(PONumber);
CREATE INDEX IF NOT EXISTS idx_purchases_po ON purchases(PONumber);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Both reads order by the identity column so that a seeded split sees the
// rows in load order on every run.
const postgresInvoicesQuery = `SELECT Quantity, Dollars, Freight, PONumber, PODate, InvoiceDate, PayDate FROM vendor_invoice ORDER BY id`

func (s *PostgresStore) Invoices(ctx context.Context) ([]model.InvoiceRecord, error) {
	rows, err := s.pool.Query(ctx, postgresInvoicesQuery)
	if err != nil {
		return nil, unavailable(err, "postgres: query invoices")
	}
	defer rows.Close()

	var out []model.InvoiceRecord
	for rows.Next() {
		var r model.InvoiceRecord
		if err := rows.Scan(&r.Quantity, &r.Dollars, &r.Freight, &r.PONumber, &r.PODate, &r.InvoiceDate, &r.PayDate); err != nil {
			return nil, unavailable(err, "postgres: scan invoice")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "postgres: iterate invoices")
	}
	return out, nil
}

// Date subtraction yields whole days as an integer in Postgres.
const postgresRiskQuery = `
WITH purchase_agg AS (
	SELECT
		p.PONumber AS PONumber,
		count(DISTINCT p.Brand) AS total_brands,
		sum(p.Quantity)::float8 AS total_item_quantity,
		sum(p.Dollars)::float8 AS total_item_dollars,
		avg(p.ReceivingDate - p.PODate)::float8 AS avg_receiving_delay
	FROM purchases p
	GROUP BY p.PONumber
)
SELECT
	vi.Quantity,
	vi.Dollars,
	vi.Freight,
	vi.PONumber,
	(vi.InvoiceDate - vi.PODate)::float8 AS days_po_to_invoice,
	(vi.PayDate - vi.InvoiceDate)::float8 AS days_to_pay,
	pa.PONumber,
	pa.total_brands,
	pa.total_item_quantity,
	pa.total_item_dollars,
	pa.avg_receiving_delay
FROM vendor_invoice vi
LEFT JOIN purchase_agg pa ON vi.PONumber = pa.PONumber
ORDER BY vi.id
`

func (s *PostgresStore) RiskRecords(ctx context.Context) ([]model.JoinedRiskRecord, error) {
	rows, err := s.pool.Query(ctx, postgresRiskQuery)
	if err != nil {
		return nil, unavailable(err, "postgres: query risk records")
	}
	defer rows.Close()

	var out []model.JoinedRiskRecord
	for rows.Next() {
		var sr scannedRisk
		if err := rows.Scan(sr.targets()...); err != nil {
			return nil, unavailable(err, "postgres: scan risk record")
		}
		out = append(out, sr.record())
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "postgres: iterate risk records")
	}
	return out, nil
}

var (
	invoiceCopyColumns  = []string{"ponumber", "podate", "invoicedate", "paydate", "quantity", "dollars", "freight"}
	purchaseCopyColumns = []string{"ponumber", "brand", "quantity", "dollars", "podate", "receivingdate"}
)

func (s *PostgresStore) ImportInvoices(ctx context.Context, rows []model.InvoiceRow) (int64, error) {
	data := make([][]any, len(rows))
	for i, r := range rows {
		dates, err := parseDates(r.PODate, r.InvoiceDate, r.PayDate)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: import vendor_invoice row %d", i)
		}
		data[i] = []any{r.PONumber, dates[0], dates[1], dates[2], r.Quantity, r.Dollars, r.Freight}
	}
	n, err := db.CopyFrom(ctx, s.pool, "vendor_invoice", invoiceCopyColumns, data)
	return n, eris.Wrap(err, "postgres: import vendor_invoice")
}

func (s *PostgresStore) ImportPurchases(ctx context.Context, rows []model.PurchaseLine) (int64, error) {
	data := make([][]any, len(rows))
	for i, r := range rows {
		dates, err := parseDates(r.PODate, r.ReceivingDate)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: import purchases row %d", i)
		}
		data[i] = []any{r.PONumber, r.Brand, r.Quantity, r.Dollars, dates[0], dates[1]}
	}
	n, err := db.CopyFrom(ctx, s.pool, "purchases", purchaseCopyColumns, data)
	return n, eris.Wrap(err, "postgres: import purchases")
}

// parseDates parses each value; blanks become nil so COPY writes NULL.
func parseDates(values ...string) ([]*time.Time, error) {
	out := make([]*time.Time, len(values))
	for i, v := range values {
		t, err := parseDate(v)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}
