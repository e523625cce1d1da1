package pipeline

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-intel/internal/artifact"
	"github.com/sells-group/invoice-intel/internal/evaluate"
	"github.com/sells-group/invoice-intel/internal/features"
	"github.com/sells-group/invoice-intel/internal/learn"
	"github.com/sells-group/invoice-intel/internal/model"
	"github.com/sells-group/invoice-intel/internal/preprocess"
	"github.com/sells-group/invoice-intel/internal/search"
	"github.com/sells-group/invoice-intel/internal/selector"
	"github.com/sells-group/invoice-intel/internal/split"
)

// riskMetric is the mean cross-validated F1 of the positive class.
const riskMetric = "cv_f1"

func (t *Trainer) trainRisk(ctx context.Context, runID string) (*TaskResult, error) {
	log := zap.L().With(zap.String("run_id", runID), zap.String("task", string(model.TaskInvoiceFlag)))

	records, err := t.source.RiskRecords(ctx)
	if err != nil {
		return nil, err
	}
	ds, stats, err := features.NewBuilder(t.cfg.Labeling).BuildRisk(records)
	if err != nil {
		return nil, err
	}
	log.Info("pipeline: labeled invoices",
		zap.Int("kept", stats.Kept),
		zap.Int("excluded", stats.Excluded),
		zap.Int("flagged", stats.Positive),
	)

	trainIdx, testIdx, err := split.TrainTest(ds.Len(), t.cfg.Split.TestRatio, t.cfg.Split.Seed)
	if err != nil {
		return nil, err
	}
	trainX, trainY := split.Take(ds.X, ds.Y, trainIdx)
	testX, testY := split.Take(ds.X, ds.Y, testIdx)

	// The scaler sees the training partition only.
	scaler, err := preprocess.StandardScalerFitter{}.Fit(ds.Features, trainX)
	if err != nil {
		return nil, err
	}
	if trainX, err = scaler.Apply(ds.Features, trainX); err != nil {
		return nil, err
	}
	if testX, err = scaler.Apply(ds.Features, testX); err != nil {
		return nil, err
	}

	space, err := search.SpaceFromConfig(t.cfg.Search)
	if err != nil {
		return nil, err
	}
	folds, err := search.Folds(trainY, t.cfg.Search.Folds)
	if err != nil {
		return nil, err
	}
	res, err := t.searcher.Search(ctx, space, search.PositiveF1, folds, trainX, trainY)
	if err != nil {
		return nil, err
	}

	pred, err := res.Model.Predict(testX)
	if err != nil {
		return nil, eris.Wrap(err, "evaluate tuned classifier")
	}
	report := evaluate.Classification(testY, pred)
	if pm, ok := res.Model.(learn.ProbaModel); ok {
		auc, err := positiveAUC(pm, testX, testY)
		if err != nil {
			return nil, err
		}
		report.ROCAUC = auc
	}

	metrics := report.Map()
	metrics[riskMetric] = res.BestScore
	log.Info("pipeline: tuned classifier evaluated",
		zap.Float64("cv_f1", res.BestScore),
		zap.Float64("accuracy", report.Accuracy),
		zap.Float64("f1", metrics["f1"]),
	)

	est := res.Best.Estimator(t.cfg.Split.Seed)
	candidates := []selector.Candidate{{
		Name:      est.Name(),
		Model:     res.Model,
		Transform: scaler,
		Params:    est.Params(),
		Metrics:   metrics,
	}}
	champ, err := selector.SelectChampion(candidates, riskMetric, selector.Maximize)
	if err != nil {
		return nil, err
	}

	a, err := t.registry.Save(ctx, model.TaskInvoiceFlag, champ.Model, champ.Transform, artifact.Meta{
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
		Task:           model.TaskInvoiceFlag,
		RunID:          runID,
		Champion:       champ.Name,
		Metric:         riskMetric,
		TrainRows:      len(trainY),
		TestRows:       len(testY),
		Excluded:       stats.Excluded,
		Candidates:     candidateResults(candidates, champ.Name),
		Classification: &report,
		Trials:         res.Trials,
		Artifact:       a,
	}, nil
}

// positiveAUC returns the ROC AUC of the class 1 probability, or 0 when
// the test partition holds a single class.
func positiveAUC(m learn.ProbaModel, X [][]float64, y []float64) (float64, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return 0, eris.Wrap(err, "predict probabilities")
	}
	scores := make([]float64, len(proba))
	for i, p := range proba {
		if len(p) > 1 {
			scores[i] = p[1]
		}
	}
	auc := evaluate.ROCAUC(y, scores, 1)
	if math.IsNaN(auc) {
		return 0, nil
	}
	return auc, nil
}
