package main

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/invoice-intel/internal/inference"
	"github.com/sells-group/invoice-intel/internal/model"
)

var (
	predictTask   string
	predictInput  string
	predictSet    []string
	predictFormat string
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Score rows with the persisted model of a task",
	Example: `  invoice-intel predict --task freight --set Dollars=214.26,1500.5
  invoice-intel predict --task invoice_flag --input invoices.csv --format json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		task, err := model.ParseTask(predictTask)
		if err != nil {
			return err
		}

		var cols inference.Columns
		switch {
		case predictInput != "" && len(predictSet) > 0:
			return eris.New("--input and --set are mutually exclusive")
		case predictInput != "":
			if cols, err = readColumnsFile(predictInput); err != nil {
				return err
			}
		case len(predictSet) > 0:
			if cols, err = parseSet(predictSet); err != nil {
				return err
			}
		default:
			return eris.New("one of --input or --set is required")
		}

		reg, err := initRegistry(ctx)
		if err != nil {
			return err
		}
		defer reg.Close() //nolint:errcheck

		pred, err := inference.NewService(reg).Predict(ctx, task, cols)
		if err != nil {
			return err
		}
		return writePrediction(cmd.OutOrStdout(), pred, predictFormat)
	},
}

// parseSet reads col=v1,v2 pairs into columns.
func parseSet(pairs []string) (inference.Columns, error) {
	cols := make(inference.Columns, len(pairs))
	for _, pair := range pairs {
		name, values, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, eris.Errorf("invalid --set %q, expected col=v1,v2", pair)
		}
		var col []float64
		for _, raw := range strings.Split(values, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, eris.Wrapf(err, "column %s", name)
			}
			col = append(col, v)
		}
		cols[name] = col
	}
	return cols, nil
}

func readColumnsFile(path string) (inference.Columns, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return readColumns(f)
}

// readColumns reads a headed numeric CSV into columns. Blank cells are
// rejected.
func readColumns(r io.Reader) (inference.Columns, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "read csv")
	}
	if len(records) == 0 {
		return nil, eris.New("csv has no header")
	}
	header := records[0]
	cols := make(inference.Columns, len(header))
	for _, name := range header {
		cols[strings.TrimSpace(name)] = make([]float64, 0, len(records)-1)
	}
	for line, rec := range records[1:] {
		for j, raw := range rec {
			name := strings.TrimSpace(header[j])
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, eris.Wrapf(err, "line %d column %s", line+2, name)
			}
			cols[name] = append(cols[name], v)
		}
	}
	return cols, nil
}

func writePrediction(w io.Writer, pred *inference.Prediction, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"task":         pred.Task,
			"output_field": pred.OutputField,
			"rows":         pred.Rows(),
		})
	case "csv", "":
		columns := pred.Columns()
		if pred.Banners != nil {
			columns = append(columns, "recommendation")
		}
		cw := csv.NewWriter(w)
		if err := cw.Write(columns); err != nil {
			return eris.Wrap(err, "write csv")
		}
		for _, row := range pred.Rows() {
			rec := make([]string, len(columns))
			for i, c := range columns {
				switch v := row[c].(type) {
				case float64:
					rec[i] = strconv.FormatFloat(v, 'f', -1, 64)
				case string:
					rec[i] = v
				}
			}
			if err := cw.Write(rec); err != nil {
				return eris.Wrap(err, "write csv")
			}
		}
		cw.Flush()
		return eris.Wrap(cw.Error(), "write csv")
	default:
		return eris.Errorf("unknown format %q", format)
	}
}

func init() {
	predictCmd.Flags().StringVar(&predictTask, "task", "", "task to predict: freight or invoice_flag (required)")
	predictCmd.Flags().StringVar(&predictInput, "input", "", "CSV file with one column per feature")
	predictCmd.Flags().StringArrayVar(&predictSet, "set", nil, "column values as col=v1,v2 (repeatable)")
	predictCmd.Flags().StringVar(&predictFormat, "format", "csv", "output format: csv or json")
	_ = predictCmd.MarkFlagRequired("task")
	rootCmd.AddCommand(predictCmd)
}
