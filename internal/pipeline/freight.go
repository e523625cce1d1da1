package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-intel/internal/artifact"
	"github.com/sells-group/invoice-intel/internal/evaluate"
	"github.com/sells-group/invoice-intel/internal/features"
	"github.com/sells-group/invoice-intel/internal/learn"
	"github.com/sells-group/invoice-intel/internal/model"
	"github.com/sells-group/invoice-intel/internal/selector"
	"github.com/sells-group/invoice-intel/internal/split"
)

// freightMetric is the selection metric of the freight task.
const freightMetric = "mae"

// freightEstimators returns the freight candidates in training order.
func (t *Trainer) freightEstimators() []learn.Estimator {
	seed := t.cfg.Split.Seed
	return []learn.Estimator{
		learn.LinearRegression{},
		learn.DecisionTreeRegressor{MaxDepth: t.cfg.Freight.TreeMaxDepth, Seed: seed},
		learn.RandomForestRegressor{
			Trees:    t.cfg.Freight.ForestTrees,
			MaxDepth: t.cfg.Freight.ForestMaxDepth,
			Seed:     seed,
		},
	}
}

func (t *Trainer) trainFreight(ctx context.Context, runID string) (*TaskResult, error) {
	log := zap.L().With(zap.String("run_id", runID), zap.String("task", string(model.TaskFreight)))

	records, err := t.source.Invoices(ctx)
	if err != nil {
		return nil, err
	}
	ds, err := features.BuildFreight(records)
	if err != nil {
		return nil, err
	}

	trainIdx, testIdx, err := split.TrainTest(ds.Len(), t.cfg.Split.TestRatio, t.cfg.Split.Seed)
	if err != nil {
		return nil, err
	}
	trainX, trainY := split.Take(ds.X, ds.Y, trainIdx)
	testX, testY := split.Take(ds.X, ds.Y, testIdx)
	log.Info("pipeline: split freight data", zap.Int("train", len(trainY)), zap.Int("test", len(testY)))

	var candidates []selector.Candidate
	for _, est := range t.freightEstimators() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := est.Fit(trainX, trainY)
		if err != nil {
			return nil, eris.Wrapf(err, "fit %s", est.Name())
		}
		pred, err := m.Predict(testX)
		if err != nil {
			return nil, eris.Wrapf(err, "evaluate %s", est.Name())
		}
		metrics := evaluate.Regression(testY, pred)
		log.Info("pipeline: candidate evaluated",
			zap.String("candidate", est.Name()),
			zap.Float64("mae", metrics.MAE),
			zap.Float64("mse", metrics.MSE),
			zap.Float64("r2_pct", metrics.R2Pct),
		)
		candidates = append(candidates, selector.Candidate{
			Name:    est.Name(),
			Model:   m,
			Params:  est.Params(),
			Metrics: metrics.Map(),
		})
	}

	champ, err := selector.SelectChampion(candidates, freightMetric, selector.Minimize)
	if err != nil {
		return nil, err
	}

	a, err := t.registry.Save(ctx, model.TaskFreight, champ.Model, nil, artifact.Meta{
		RunID:    runID,
		Champion: champ.Name,
		Features: ds.Features,
		Params:   champ.Params,
		Metrics:  champ.Metrics,
	})
	if err != nil {
		return nil, err
	}

	return &TaskResult{
		Task:       model.TaskFreight,
		RunID:      runID,
		Champion:   champ.Name,
		Metric:     freightMetric,
		TrainRows:  len(trainY),
		TestRows:   len(testY),
		Candidates: candidateResults(candidates, champ.Name),
		Artifact:   a,
	}, nil
}

func candidateResults(candidates []selector.Candidate, champion string) []CandidateResult {
	out := make([]CandidateResult, len(candidates))
	for i, c := range candidates {
		out[i] = CandidateResult{
			Name:     c.Name,
			Params:   c.Params,
			Metrics:  c.Metrics,
			Champion: c.Name == champion,
		}
	}
	return out
}
