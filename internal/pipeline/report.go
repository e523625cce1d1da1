package pipeline

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/invoice-intel/internal/model"
)

// metricColumns lists the metrics shown per task, in display order.
var metricColumns = map[model.TaskID][]string{
	model.TaskFreight:     {"mae", "mse", "rmse", "r2_pct"},
	model.TaskInvoiceFlag: {"cv_f1", "accuracy", "precision", "recall", "f1", "f1_macro", "roc_auc"},
}

var printer = message.NewPrinter(language.English)

func formatMetric(v float64, ok bool) string {
	if !ok {
		return "-"
	}
	return printer.Sprintf("%.4f", v)
}

// FormatReport renders a human-readable evaluation table for a run.
func FormatReport(res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Training run %s\n", res.RunID)

	for _, tr := range res.Tasks {
		if tr == nil {
			continue
		}
		cols := metricColumns[tr.Task]

		fmt.Fprintf(&b, "\n## %s\n", tr.Task)
		fmt.Fprintf(&b, "Rows: %d train, %d test", tr.TrainRows, tr.TestRows)
		if tr.Excluded > 0 {
			fmt.Fprintf(&b, ", %d excluded", tr.Excluded)
		}
		fmt.Fprintf(&b, "\nChampion: %s (by %s)\n\n", tr.Champion, tr.Metric)

		w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "candidate\t%s\t\n", strings.Join(cols, "\t"))
		for _, c := range tr.Candidates {
			name := c.Name
			if c.Champion {
				name += " *"
			}
			cells := make([]string, len(cols))
			for i, col := range cols {
				v, ok := c.Metrics[col]
				cells[i] = formatMetric(v, ok)
			}
			fmt.Fprintf(w, "%s\t%s\t\n", name, strings.Join(cells, "\t"))
		}
		_ = w.Flush()

		if rep := tr.Classification; rep != nil {
			b.WriteString("\n")
			w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "class\tprecision\trecall\tf1\tsupport\t")
			for _, c := range rep.Classes {
				fmt.Fprintf(w, "%d\t%.2f\t%.2f\t%.2f\t%d\t\n", c.Class, c.Precision, c.Recall, c.F1, c.Support)
			}
			fmt.Fprintf(w, "macro avg\t%.2f\t%.2f\t%.2f\t%d\t\n", rep.MacroAvg.Precision, rep.MacroAvg.Recall, rep.MacroAvg.F1, rep.MacroAvg.Support)
			fmt.Fprintf(w, "weighted avg\t%.2f\t%.2f\t%.2f\t%d\t\n", rep.WeightedAvg.Precision, rep.WeightedAvg.Recall, rep.WeightedAvg.F1, rep.WeightedAvg.Support)
			_ = w.Flush()
			fmt.Fprintf(&b, "Confusion (rows true %v, cols predicted): %v\n", rep.Labels, rep.Confusion)
		}
		if len(tr.Trials) > 0 {
			valid := 0
			for _, t := range tr.Trials {
				if t.Valid {
					valid++
				}
			}
			fmt.Fprintf(&b, "Search: %d configurations, %d scored\n", len(tr.Trials), valid)
		}
	}
	return b.String()
}

// WriteXLSX exports the run to an XLSX workbook with a summary sheet, one
// candidate sheet per task and a sheet of search trials.
func WriteXLSX(res *Result, path string) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet("summary")
	if err != nil {
		return eris.Wrap(err, "pipeline: add summary sheet")
	}
	addStrings(summary, "task", "run_id", "champion", "metric", "train_rows", "test_rows", "excluded", "duration_s")
	for _, tr := range res.Tasks {
		if tr == nil {
			continue
		}
		row := summary.AddRow()
		row.AddCell().SetString(string(tr.Task))
		row.AddCell().SetString(tr.RunID)
		row.AddCell().SetString(tr.Champion)
		row.AddCell().SetString(tr.Metric)
		row.AddCell().SetInt(tr.TrainRows)
		row.AddCell().SetInt(tr.TestRows)
		row.AddCell().SetInt(tr.Excluded)
		row.AddCell().SetFloat(tr.Duration.Seconds())

		if err := addCandidateSheet(f, tr); err != nil {
			return err
		}
		if len(tr.Trials) > 0 {
			if err := addTrialSheet(f, tr); err != nil {
				return err
			}
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "pipeline: save report %s", path)
	}
	return nil
}

func addCandidateSheet(f *xlsx.File, tr *TaskResult) error {
	sheet, err := f.AddSheet(string(tr.Task))
	if err != nil {
		return eris.Wrapf(err, "pipeline: add %s sheet", tr.Task)
	}
	cols := metricColumns[tr.Task]
	addStrings(sheet, append([]string{"candidate", "champion"}, cols...)...)
	for _, c := range tr.Candidates {
		row := sheet.AddRow()
		row.AddCell().SetString(c.Name)
		row.AddCell().SetBool(c.Champion)
		for _, col := range cols {
			cell := row.AddCell()
			if v, ok := c.Metrics[col]; ok {
				cell.SetFloat(v)
			}
		}
	}
	return nil
}

func addTrialSheet(f *xlsx.File, tr *TaskResult) error {
	sheet, err := f.AddSheet(string(tr.Task) + " trials")
	if err != nil {
		return eris.Wrapf(err, "pipeline: add %s trials sheet", tr.Task)
	}
	addStrings(sheet, "trial", "n_estimators", "max_depth", "min_samples_split", "min_samples_leaf", "criterion", "mean_cv_f1", "valid")

	for _, t := range tr.Trials {
		row := sheet.AddRow()
		row.AddCell().SetInt(t.Index)
		row.AddCell().SetInt(t.Params.Trees)
		depth := row.AddCell()
		if t.Params.MaxDepth > 0 {
			depth.SetInt(t.Params.MaxDepth)
		} else {
			depth.SetString("none")
		}
		row.AddCell().SetInt(t.Params.MinSamplesSplit)
		row.AddCell().SetInt(t.Params.MinSamplesLeaf)
		row.AddCell().SetString(t.Params.Criterion)
		mean := row.AddCell()
		if t.Valid {
			mean.SetFloat(t.Mean)
		}
		row.AddCell().SetBool(t.Valid)
	}
	return nil
}

func addStrings(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
