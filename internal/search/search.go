// Package search tunes the invoice_flag classifier by cross-validated grid
// search.
package search

import (
	"context"
	"math"
	"runtime"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/invoice-intel/internal/config"
	"github.com/sells-group/invoice-intel/internal/evaluate"
	"github.com/sells-group/invoice-intel/internal/learn"
	"github.com/sells-group/invoice-intel/internal/model"
	"github.com/sells-group/invoice-intel/internal/split"
)

// Scorer rates predictions on one validation fold; larger is better. ok is
// false when the fold cannot be scored. A trial needs at least one scorable
// fold.
type Scorer func(yTrue, yPred []float64) (score float64, ok bool)

// PositiveF1 scores folds by the F1 of class 1. Folds whose validation part
// holds no positive label are unscorable; the search counts them as 0.
func PositiveF1(yTrue, yPred []float64) (float64, bool) {
	for _, v := range yTrue {
		if v == 1 {
			return evaluate.F1(yTrue, yPred, 1), true
		}
	}
	return 0, false
}

// Searcher chooses hyperparameters from a space.
type Searcher interface {
	Search(ctx context.Context, space Space, scorer Scorer, folds []split.Fold, X [][]float64, y []float64) (*Result, error)
}

// Trial is the cross-validation outcome of one configuration.
type Trial struct {
	Index      int       `json:"index"`
	Params     Params    `json:"params"`
	FoldScores []float64 `json:"fold_scores"`
	Mean       float64   `json:"mean"`
	Valid      bool      `json:"valid"`
}

// Result is the winning configuration refit on all the data passed to
// Search.
type Result struct {
	Best      Params
	BestScore float64
	Model     learn.Model
	Trials    []Trial
}

// Folds builds stratified folds, reporting too-small inputs as
// model.ErrSearchExhausted.
func Folds(y []float64, k int) ([]split.Fold, error) {
	folds, err := split.StratifiedKFold(y, k)
	if err != nil {
		return nil, eris.Wrapf(model.ErrSearchExhausted, "search: %v", err)
	}
	return folds, nil
}

// GridSearch evaluates every configuration of the space.
type GridSearch struct {
	Seed uint64
	// Parallelism bounds concurrent trials; 0 means runtime.NumCPU().
	Parallelism int
	// TieBreak is config.TieBreakSimplest or config.TieBreakFirst.
	TieBreak string
}

// NewGridSearch builds a GridSearch from config.
func NewGridSearch(cfg config.SearchConfig, seed uint64) *GridSearch {
	return &GridSearch{Seed: seed, Parallelism: cfg.Parallelism, TieBreak: cfg.TieBreak}
}

// Search runs every trial, picks the best mean fold score and refits the
// winner on X and y.
func (g *GridSearch) Search(ctx context.Context, space Space, scorer Scorer, folds []split.Fold, X [][]float64, y []float64) (*Result, error) {
	configs := space.Enumerate()
	if len(configs) == 0 {
		return nil, eris.Wrap(model.ErrSearchExhausted, "search: empty grid")
	}
	if len(folds) == 0 {
		return nil, eris.Wrap(model.ErrSearchExhausted, "search: no folds")
	}

	limit := g.Parallelism
	if limit <= 0 {
		limit = runtime.NumCPU()
	}

	zap.L().Info("search: starting grid search",
		zap.Int("configs", len(configs)),
		zap.Int("folds", len(folds)),
		zap.Int("parallelism", limit),
	)

	trials := make([]Trial, len(configs))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, p := range configs {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			trial, err := g.runTrial(gctx, i, p, scorer, folds, X, y)
			if err != nil {
				return err
			}
			trials[i] = trial
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, eris.Wrap(err, "search: run trials")
	}

	best, ok := g.pick(trials)
	if !ok {
		return nil, eris.Wrap(model.ErrSearchExhausted, "search: every trial had only unscorable folds")
	}

	winner := trials[best]
	m, err := winner.Params.Estimator(g.Seed).Fit(X, y)
	if err != nil {
		return nil, eris.Wrap(err, "search: refit best configuration")
	}

	zap.L().Info("search: best configuration",
		zap.Int("trial", winner.Index),
		zap.Float64("cv_score", winner.Mean),
		zap.Any("params", winner.Params),
	)

	return &Result{Best: winner.Params, BestScore: winner.Mean, Model: m, Trials: trials}, nil
}

func (g *GridSearch) runTrial(ctx context.Context, i int, p Params, scorer Scorer, folds []split.Fold, X [][]float64, y []float64) (Trial, error) {
	trial := Trial{Index: i, Params: p, Mean: math.NaN()}
	est := p.Estimator(g.Seed)

	var sum float64
	scorable := false
	for f, fold := range folds {
		if err := ctx.Err(); err != nil {
			return Trial{}, err
		}
		trainX, trainY := split.Take(X, y, fold.Train)
		validX, validY := split.Take(X, y, fold.Valid)

		m, err := est.Fit(trainX, trainY)
		if err != nil {
			return Trial{}, eris.Wrapf(err, "search: trial %d fold %d", i, f)
		}
		pred, err := m.Predict(validX)
		if err != nil {
			return Trial{}, eris.Wrapf(err, "search: trial %d fold %d", i, f)
		}
		// An unscorable fold counts as 0 so the mean is always over every
		// fold.
		score, ok := scorer(validY, pred)
		if ok {
			scorable = true
		} else {
			score = 0
		}
		trial.FoldScores = append(trial.FoldScores, score)
		sum += score
	}

	if scorable {
		trial.Valid = true
		trial.Mean = sum / float64(len(folds))
	}
	zap.L().Debug("search: trial done",
		zap.Int("trial", i),
		zap.Any("params", p),
		zap.Float64("mean", trial.Mean),
	)
	return trial, nil
}

// pick returns the index of the winning trial. Under TieBreakSimplest,
// trials sharing the best mean are ordered by fewest trees, then shallowest
// depth (unbounded counts as deepest), then enumeration order.
func (g *GridSearch) pick(trials []Trial) (int, bool) {
	best := -1
	for i, t := range trials {
		if !t.Valid {
			continue
		}
		if best < 0 || t.Mean > trials[best].Mean {
			best = i
			continue
		}
		if t.Mean == trials[best].Mean && g.TieBreak != config.TieBreakFirst && simpler(t.Params, trials[best].Params) {
			best = i
		}
	}
	return best, best >= 0
}

func simpler(a, b Params) bool {
	if a.Trees != b.Trees {
		return a.Trees < b.Trees
	}
	return depthRank(a.MaxDepth) < depthRank(b.MaxDepth)
}

func depthRank(d int) int {
	if d <= 0 {
		return math.MaxInt
	}
	return d
}
