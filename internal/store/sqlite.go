package store

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/invoice-intel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := OpenSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLite opens a database handle with the pragmas every SQLite user in
// this module shares.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return db, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS vendor_invoice (
	PONumber    INTEGER,
	PODate      TEXT,
	InvoiceDate TEXT,
	PayDate     TEXT,
	Quantity    INTEGER NOT NULL,
	Dollars     REAL NOT NULL,
	Freight     REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS purchases (
	PONumber      INTEGER NOT NULL,
	Brand         INTEGER NOT NULL,
	Quantity      REAL NOT NULL,
	Dollars       REAL NOT NULL,
	PODate        TEXT,
	ReceivingDate TEXT
);

CREATE INDEX IF NOT EXISTS idx_vendor_invoice_po ON vendor_invoice(PONumber);
CREATE INDEX IF NOT EXISTS idx_purchases_po ON purchases(PONumber);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteInvoicesQuery = `SELECT Quantity, Dollars, Freight, PONumber, PODate, InvoiceDate, PayDate FROM vendor_invoice ORDER BY rowid`

func (s *SQLiteStore) Invoices(ctx context.Context) ([]model.InvoiceRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqliteInvoicesQuery)
	if err != nil {
		return nil, unavailable(err, "sqlite: query invoices")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.InvoiceRecord
	for rows.Next() {
		var (
			r                        model.InvoiceRecord
			po                       sql.NullInt64
			poDate, invDate, payDate sql.NullString
		)
		if err := rows.Scan(&r.Quantity, &r.Dollars, &r.Freight, &po, &poDate, &invDate, &payDate); err != nil {
			return nil, unavailable(err, "sqlite: scan invoice")
		}
		if po.Valid {
			r.PONumber = &po.Int64
		}
		if err := setDates(&r, poDate.String, invDate.String, payDate.String); err != nil {
			return nil, unavailable(err, "sqlite: invoice dates")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "sqlite: iterate invoices")
	}
	return out, nil
}

const sqliteRiskQuery = `
WITH purchase_agg AS (
	SELECT
		p.PONumber AS PONumber,
		count(DISTINCT p.Brand) AS total_brands,
		sum(p.Quantity) AS total_item_quantity,
		sum(p.Dollars) AS total_item_dollars,
		avg(julianday(p.ReceivingDate) - julianday(p.PODate)) AS avg_receiving_delay
	FROM purchases p
	GROUP BY p.PONumber
)
SELECT
	vi.Quantity,
	vi.Dollars,
	vi.Freight,
	vi.PONumber,
	(julianday(vi.InvoiceDate) - julianday(vi.PODate)) AS days_po_to_invoice,
	(julianday(vi.PayDate) - julianday(vi.InvoiceDate)) AS days_to_pay,
	pa.PONumber,
	pa.total_brands,
	pa.total_item_quantity,
	pa.total_item_dollars,
	pa.avg_receiving_delay
FROM vendor_invoice vi
LEFT JOIN purchase_agg pa ON vi.PONumber = pa.PONumber
ORDER BY vi.rowid
`

func (s *SQLiteStore) RiskRecords(ctx context.Context) ([]model.JoinedRiskRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqliteRiskQuery)
	if err != nil {
		return nil, unavailable(err, "sqlite: query risk records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.JoinedRiskRecord
	for rows.Next() {
		var sr scannedRisk
		if err := rows.Scan(sr.targets()...); err != nil {
			return nil, unavailable(err, "sqlite: scan risk record")
		}
		out = append(out, sr.record())
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "sqlite: iterate risk records")
	}
	return out, nil
}

func (s *SQLiteStore) ImportInvoices(ctx context.Context, rows []model.InvoiceRow) (int64, error) {
	return s.insertAll(ctx, "vendor_invoice",
		`INSERT INTO vendor_invoice (PONumber, PODate, InvoiceDate, PayDate, Quantity, Dollars, Freight) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		len(rows), func(i int) []any {
			r := rows[i]
			return []any{nullInt(r.PONumber), nullString(r.PODate), nullString(r.InvoiceDate), nullString(r.PayDate), r.Quantity, r.Dollars, r.Freight}
		})
}

func (s *SQLiteStore) ImportPurchases(ctx context.Context, rows []model.PurchaseLine) (int64, error) {
	return s.insertAll(ctx, "purchases",
		`INSERT INTO purchases (PONumber, Brand, Quantity, Dollars, PODate, ReceivingDate) VALUES (?, ?, ?, ?, ?, ?)`,
		len(rows), func(i int) []any {
			r := rows[i]
			return []any{r.PONumber, r.Brand, r.Quantity, r.Dollars, nullString(r.PODate), nullString(r.ReceivingDate)}
		})
}

// insertAll inserts n rows in one transaction.
func (s *SQLiteStore) insertAll(ctx context.Context, table, query string, n int, args func(i int) []any) (int64, error) {
	if n == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: begin import %s", table)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: prepare import %s", table)
	}
	defer stmt.Close() //nolint:errcheck

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import %s row %d", table, i)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrapf(err, "sqlite: commit import %s", table)
	}
	return int64(n), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
