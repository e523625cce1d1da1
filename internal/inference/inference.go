// Package inference serves predictions from persisted artifacts, applying
// the exact preprocessing fitted at training time.
package inference

import (
	"context"
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-intel/internal/artifact"
	"github.com/sells-group/invoice-intel/internal/model"
)

// Recommendation banners shown next to invoice_flag predictions.
const (
	BannerNormal     = "NORMAL INVOICE: can proceed through standard approval workflow"
	BannerSuspicious = "SUSPICIOUS INVOICE: manual review required before approval"
)

// Columns is columnar input keyed by feature name, e.g.
// {"Dollars": [214.26, 1500.50]}.
type Columns map[string][]float64

// Prediction is the output of one Predict call. Inputs echoes every input
// column, including ones the model ignores.
type Prediction struct {
	Task        model.TaskID `json:"task"`
	OutputField string       `json:"output_field"`
	Inputs      Columns      `json:"-"`
	Values      []float64    `json:"-"`
	Banners     []string     `json:"-"`
}

// Len returns the number of predicted rows.
func (p *Prediction) Len() int { return len(p.Values) }

// Rows returns one record per input row holding the echoed inputs, the
// output field and, for invoice_flag, the recommendation banner.
func (p *Prediction) Rows() []map[string]any {
	rows := make([]map[string]any, len(p.Values))
	for i := range rows {
		row := make(map[string]any, len(p.Inputs)+2)
		for name, col := range p.Inputs {
			row[name] = col[i]
		}
		row[p.OutputField] = p.Values[i]
		if p.Banners != nil {
			row["recommendation"] = p.Banners[i]
		}
		rows[i] = row
	}
	return rows
}

// Columns returns the echoed input names in sorted order followed by the
// output field.
func (p *Prediction) Columns() []string {
	names := make([]string, 0, len(p.Inputs)+1)
	for name := range p.Inputs {
		names = append(names, name)
	}
	slices.Sort(names)
	return append(names, p.OutputField)
}

// Service predicts with cached artifacts. It is safe for concurrent use.
type Service struct {
	loader Loader
	cache  *modelCache
}

// NewService builds a Service over loader. When loader also accepts save
// subscriptions (as *artifact.Registry does), saves invalidate the cache.
func NewService(loader Loader) *Service {
	s := &Service{loader: loader, cache: newModelCache()}
	if sub, ok := loader.(interface {
		Subscribe(func(model.TaskID))
	}); ok {
		sub.Subscribe(s.Invalidate)
	}
	return s
}

// Invalidate drops the cached artifact for task; the next call reloads it.
func (s *Service) Invalidate(task model.TaskID) {
	s.cache.invalidate(task)
	zap.L().Debug("inference: cache invalidated", zap.String("task", string(task)))
}

// Reload replaces the cached artifact for task with a fresh load.
func (s *Service) Reload(ctx context.Context, task model.TaskID) (*artifact.Artifact, error) {
	s.Invalidate(task)
	return s.artifact(ctx, task)
}

// Artifact returns the artifact for task, loading it on a cache miss.
func (s *Service) Artifact(ctx context.Context, task model.TaskID) (*artifact.Artifact, error) {
	return s.artifact(ctx, task)
}

// Stats returns cache statistics.
func (s *Service) Stats() CacheStats { return s.cache.stats() }

func (s *Service) artifact(ctx context.Context, task model.TaskID) (*artifact.Artifact, error) {
	if _, err := model.ParseTask(string(task)); err != nil {
		return nil, eris.Wrapf(model.ErrArtifactNotFound, "inference: task %q", task)
	}
	a, gen := s.cache.get(task)
	if a != nil {
		return a, nil
	}
	a, err := s.loader.Load(ctx, task)
	if err != nil {
		return nil, eris.Wrapf(err, "inference: load %s", task)
	}
	s.cache.put(task, gen, a)
	zap.L().Info("inference: artifact loaded",
		zap.String("task", string(task)),
		zap.String("run_id", a.Meta.RunID),
		zap.String("champion", a.Meta.Champion),
	)
	return a, nil
}

// Predict scores the rows of cols with the task's artifact. Columns not in
// the schema are echoed but otherwise ignored.
func (s *Service) Predict(ctx context.Context, task model.TaskID, cols Columns) (*Prediction, error) {
	a, err := s.artifact(ctx, task)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "inference: predict")
	}

	features := a.Features()
	n, err := validate(features, cols)
	if err != nil {
		return nil, eris.Wrapf(err, "inference: predict %s", task)
	}

	X := make([][]float64, n)
	for i := range X {
		row := make([]float64, len(features))
		for j, name := range features {
			row[j] = cols[name][i]
		}
		X[i] = row
	}

	if a.Transform != nil {
		if X, err = a.Transform.Apply(features, X); err != nil {
			return nil, eris.Wrapf(err, "inference: transform %s", task)
		}
	}

	raw, err := a.Model.Predict(X)
	if err != nil {
		return nil, eris.Wrapf(err, "inference: predict %s", task)
	}

	p := &Prediction{
		Task:        task,
		OutputField: task.OutputField(),
		Inputs:      copyColumns(cols),
		Values:      make([]float64, n),
	}
	switch task {
	case model.TaskFreight:
		for i, v := range raw {
			r := math.RoundToEven(v)
			if r == 0 {
				r = 0 // drop the sign of -0
			}
			p.Values[i] = r
		}
	case model.TaskInvoiceFlag:
		p.Banners = make([]string, n)
		for i, v := range raw {
			p.Values[i] = v
			p.Banners[i] = Banner(v)
		}
	}
	return p, nil
}

// Banner returns the recommendation for a predicted flag.
func Banner(flag float64) string {
	if flag == 1 {
		return BannerSuspicious
	}
	return BannerNormal
}

// validate checks that every schema column is present, all columns have
// the same non-zero length and every schema value is finite. It returns the
// row count.
func validate(features []string, cols Columns) (int, error) {
	for _, name := range features {
		if _, ok := cols[name]; !ok {
			return 0, eris.Wrapf(model.ErrFeatureMissing, "column %q", name)
		}
	}
	n := len(cols[features[0]])
	if n == 0 {
		return 0, eris.Wrap(model.ErrShapeMismatch, "no rows")
	}
	for name, col := range cols {
		if len(col) != n {
			return 0, eris.Wrapf(model.ErrShapeMismatch, "column %q has %d values, expected %d", name, len(col), n)
		}
	}
	for _, name := range features {
		for i, v := range cols[name] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, eris.Wrapf(model.ErrShapeMismatch, "column %q row %d is not finite", name, i)
			}
		}
	}
	return n, nil
}

func copyColumns(cols Columns) Columns {
	out := make(Columns, len(cols))
	for k, v := range cols {
		out[k] = append([]float64(nil), v...)
	}
	return out
}
