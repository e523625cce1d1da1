package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-intel/internal/model"
	"github.com/sells-group/invoice-intel/internal/pipeline"
)

var (
	trainTask   string
	trainReport string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train, evaluate and persist the champion model for each task",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		tasks, err := parseTasks(trainTask)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg, err := initRegistry(ctx)
		if err != nil {
			return err
		}
		defer reg.Close() //nolint:errcheck

		res, err := pipeline.New(cfg, st, reg).Run(ctx, tasks)
		if err != nil {
			return eris.Wrap(err, "train")
		}

		fmt.Fprint(cmd.OutOrStdout(), pipeline.FormatReport(res))

		if trainReport != "" {
			if err := pipeline.WriteXLSX(res, trainReport); err != nil {
				return err
			}
			zap.L().Info("report written", zap.String("path", trainReport))
		}
		return nil
	},
}

// parseTasks expands "all" or validates a single task id.
func parseTasks(s string) ([]model.TaskID, error) {
	if s == "" || s == "all" {
		return model.AllTasks, nil
	}
	task, err := model.ParseTask(s)
	if err != nil {
		return nil, err
	}
	return []model.TaskID{task}, nil
}

func init() {
	trainCmd.Flags().StringVar(&trainTask, "task", "all", "task to train: freight, invoice_flag or all")
	trainCmd.Flags().StringVar(&trainReport, "report", "", "optional XLSX evaluation report path")
	rootCmd.AddCommand(trainCmd)
}
