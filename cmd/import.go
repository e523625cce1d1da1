package main

import (
	"encoding/csv"
	"errors"
	"io"
	"os"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-intel/internal/model"
)

var (
	importInvoicesPath  string
	importPurchasesPath string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load vendor_invoice and purchases CSV files into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if importInvoicesPath == "" && importPurchasesPath == "" {
			return eris.New("at least one of --invoices or --purchases is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		if importInvoicesPath != "" {
			rows, err := readCSV[model.InvoiceRow](importInvoicesPath)
			if err != nil {
				return err
			}
			n, err := st.ImportInvoices(ctx, rows)
			if err != nil {
				return eris.Wrap(err, "import invoices")
			}
			zap.L().Info("import complete", zap.String("table", "vendor_invoice"), zap.Int64("rows", n))
		}

		if importPurchasesPath != "" {
			rows, err := readCSV[model.PurchaseLine](importPurchasesPath)
			if err != nil {
				return err
			}
			n, err := st.ImportPurchases(ctx, rows)
			if err != nil {
				return eris.Wrap(err, "import purchases")
			}
			zap.L().Info("import complete", zap.String("table", "purchases"), zap.Int64("rows", n))
		}
		return nil
	},
}

// readCSV decodes every record of a headed CSV file into T.
func readCSV[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck

	dec, err := csvutil.NewDecoder(csv.NewReader(f))
	if err != nil {
		return nil, eris.Wrapf(err, "read header of %s", path)
	}

	var out []T
	for {
		var v T
		if err := dec.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, eris.Wrapf(err, "decode %s", path)
		}
		out = append(out, v)
	}
	return out, nil
}

func init() {
	importCmd.Flags().StringVar(&importInvoicesPath, "invoices", "", "path to a vendor_invoice CSV file")
	importCmd.Flags().StringVar(&importPurchasesPath, "purchases", "", "path to a purchases CSV file")
	rootCmd.AddCommand(importCmd)
}
