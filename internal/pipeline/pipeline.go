// Package pipeline trains, evaluates, selects and persists the model for
// each prediction task.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/invoice-intel/internal/artifact"
	"github.com/sells-group/invoice-intel/internal/config"
	"github.com/sells-group/invoice-intel/internal/evaluate"
	"github.com/sells-group/invoice-intel/internal/model"
	"github.com/sells-group/invoice-intel/internal/search"
)

// Source supplies training data. store.Store implements it.
type Source interface {
	Invoices(ctx context.Context) ([]model.InvoiceRecord, error)
	RiskRecords(ctx context.Context) ([]model.JoinedRiskRecord, error)
}

// CandidateResult is one evaluated candidate of a task.
type CandidateResult struct {
	Name     string             `json:"name"`
	Params   map[string]any     `json:"params"`
	Metrics  map[string]float64 `json:"metrics"`
	Champion bool               `json:"champion"`
}

// TaskResult summarizes the training of one task.
type TaskResult struct {
	Task       model.TaskID      `json:"task"`
	RunID      string            `json:"run_id"`
	Champion   string            `json:"champion"`
	Metric     string            `json:"metric"`
	TrainRows  int               `json:"train_rows"`
	TestRows   int               `json:"test_rows"`
	Excluded   int               `json:"excluded"`
	Candidates []CandidateResult `json:"candidates"`
	// Classification and Trials are set for the invoice_flag task.
	Classification *evaluate.ClassificationReport `json:"classification,omitempty"`
	Trials         []search.Trial                 `json:"trials,omitempty"`
	Duration       time.Duration                  `json:"duration"`

	Artifact *artifact.Artifact `json:"-"`
}

// Result is the outcome of one training run.
type Result struct {
	RunID string        `json:"run_id"`
	Tasks []*TaskResult `json:"tasks"`
}

// Trainer runs the training workflow for each task.
type Trainer struct {
	cfg      *config.Config
	source   Source
	registry *artifact.Registry
	searcher search.Searcher
}

// New creates a Trainer with the configured grid search.
func New(cfg *config.Config, source Source, registry *artifact.Registry) *Trainer {
	return &Trainer{
		cfg:      cfg,
		source:   source,
		registry: registry,
		searcher: search.NewGridSearch(cfg.Search, cfg.Split.Seed),
	}
}

// WithSearcher replaces the hyperparameter search strategy.
func (t *Trainer) WithSearcher(s search.Searcher) *Trainer {
	t.searcher = s
	return t
}

// Run trains every task in tasks under a single run id. Tasks are
// independent and train concurrently; the first failure cancels the rest.
func (t *Trainer) Run(ctx context.Context, tasks []model.TaskID) (*Result, error) {
	if len(tasks) == 0 {
		return nil, eris.New("pipeline: no tasks")
	}
	runID := uuid.NewString()
	log := zap.L().With(zap.String("run_id", runID))
	log.Info("pipeline: starting training run", zap.Int("tasks", len(tasks)))

	res := &Result{RunID: runID, Tasks: make([]*TaskResult, len(tasks))}
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		g.Go(func() error {
			tr, err := t.Train(gctx, runID, task)
			if err != nil {
				return err
			}
			res.Tasks[i] = tr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("pipeline: training run complete")
	return res, nil
}

// Train runs the workflow of a single task and persists its champion.
func (t *Trainer) Train(ctx context.Context, runID string, task model.TaskID) (*TaskResult, error) {
	start := time.Now()
	var (
		tr  *TaskResult
		err error
	)
	switch task {
	case model.TaskFreight:
		tr, err = t.trainFreight(ctx, runID)
	case model.TaskInvoiceFlag:
		tr, err = t.trainRisk(ctx, runID)
	default:
		return nil, eris.Wrapf(model.ErrUnknownTask, "pipeline: train %q", task)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: train %s", task)
	}
	tr.Duration = time.Since(start)

	zap.L().Info("pipeline: task trained",
		zap.String("run_id", runID),
		zap.String("task", string(task)),
		zap.String("champion", tr.Champion),
		zap.Duration("duration", tr.Duration),
	)
	return tr, nil
}
