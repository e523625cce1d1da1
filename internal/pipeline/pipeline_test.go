package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/invoice-intel/internal/artifact"
	"github.com/sells-group/invoice-intel/internal/config"
	"github.com/sells-group/invoice-intel/internal/model"
	"github.com/sells-group/invoice-intel/internal/search"
	"github.com/sells-group/invoice-intel/internal/split"
)

type stubSource struct {
	invoices []model.InvoiceRecord
	risk     []model.JoinedRiskRecord
	err      error
}

func (s *stubSource) Invoices(context.Context) ([]model.InvoiceRecord, error) {
	return s.invoices, s.err
}

func (s *stubSource) RiskRecords(context.Context) ([]model.JoinedRiskRecord, error) {
	return s.risk, s.err
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Freight.ForestTrees = 10
	cfg.Search.Folds = 3
	cfg.Search.Parallelism = 2
	cfg.Search.Grid = config.GridConfig{
		Trees:           []int{5, 10},
		MaxDepth:        []int{0, 4},
		MinSamplesSplit: []int{2},
		MinSamplesLeaf:  []int{1},
		Criterion:       []string{"gini"},
	}
	return cfg
}

// freightInvoices follows Freight = 0.0157 * Dollars exactly.
func freightInvoices(n int) []model.InvoiceRecord {
	out := make([]model.InvoiceRecord, n)
	for i := range out {
		d := float64(50 + i*37%1900)
		out[i] = model.InvoiceRecord{Quantity: int64(i%9 + 1), Dollars: d, Freight: 0.0157 * d}
	}
	return out
}

// riskRecords flags every fourth invoice through a dollar mismatch.
func riskRecords(n int, flagEvery int) []model.JoinedRiskRecord {
	rng := split.NewRand(3)
	out := make([]model.JoinedRiskRecord, n)
	for i := range out {
		dollars := 100 + float64(i)*3
		items := dollars
		if flagEvery > 0 && i%flagEvery == 0 {
			items = dollars - 20 - rng.Float64()*10
		}
		delay := 2.0
		po := int64(i + 1)
		out[i] = model.JoinedRiskRecord{
			Invoice: model.InvoiceRecord{
				Quantity: int64(i%5 + 1),
				Dollars:  dollars,
				Freight:  dollars * 0.01,
				PONumber: &po,
			},
			PO: &model.PurchaseOrderAggregate{
				PONumber:          po,
				TotalBrands:       1,
				TotalItemQuantity: float64(i%5 + 1),
				TotalItemDollars:  items,
				AvgReceivingDelay: &delay,
			},
		}
	}
	return out
}

func newRegistry(t *testing.T) *artifact.Registry {
	t.Helper()
	fs, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return artifact.NewRegistry(fs)
}

func TestTrainer_RunAllTasks(t *testing.T) {
	reg := newRegistry(t)
	src := &stubSource{invoices: freightInvoices(100), risk: riskRecords(80, 4)}
	tr := New(testConfig(), src, reg)

	res, err := tr.Run(context.Background(), model.AllTasks)
	require.NoError(t, err)
	require.Len(t, res.Tasks, 2)
	assert.NotEmpty(t, res.RunID)

	freight := res.Tasks[0]
	assert.Equal(t, model.TaskFreight, freight.Task)
	assert.Equal(t, "Linear Regression", freight.Champion)
	assert.Equal(t, "mae", freight.Metric)
	assert.Equal(t, 80, freight.TrainRows)
	assert.Equal(t, 20, freight.TestRows)
	require.Len(t, freight.Candidates, 3)
	assert.Equal(t, []string{"Linear Regression", "Decision Tree Regressor", "Random Forest Regressor"},
		[]string{freight.Candidates[0].Name, freight.Candidates[1].Name, freight.Candidates[2].Name})
	assert.True(t, freight.Candidates[0].Champion)
	assert.InDelta(t, 0, freight.Candidates[0].Metrics["mae"], 1e-9)

	risk := res.Tasks[1]
	assert.Equal(t, model.TaskInvoiceFlag, risk.Task)
	assert.Equal(t, "Random Forest Classifier", risk.Champion)
	assert.Len(t, risk.Trials, 4)
	require.NotNil(t, risk.Classification)
	assert.Contains(t, risk.Candidates[0].Metrics, "cv_f1")
	assert.Equal(t, 64, risk.TrainRows)

	loaded, err := reg.Load(context.Background(), model.TaskFreight)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, loaded.Meta.RunID)
	assert.Nil(t, loaded.Transform)

	loaded, err = reg.Load(context.Background(), model.TaskInvoiceFlag)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, loaded.Meta.RunID)
	require.NotNil(t, loaded.Transform)
	assert.Equal(t, model.RiskFeatures, loaded.Transform.Features())
}

func TestTrainer_Deterministic(t *testing.T) {
	src := &stubSource{invoices: freightInvoices(60), risk: riskRecords(60, 3)}
	a, err := New(testConfig(), src, newRegistry(t)).Train(context.Background(), "a", model.TaskInvoiceFlag)
	require.NoError(t, err)
	b, err := New(testConfig(), src, newRegistry(t)).Train(context.Background(), "b", model.TaskInvoiceFlag)
	require.NoError(t, err)

	assert.Equal(t, a.Trials, b.Trials)
	assert.Equal(t, a.Candidates[0].Metrics, b.Candidates[0].Metrics)
}

func TestTrainer_NoData(t *testing.T) {
	tr := New(testConfig(), &stubSource{}, newRegistry(t))

	_, err := tr.Train(context.Background(), "run", model.TaskFreight)
	assert.ErrorIs(t, err, model.ErrDataUnavailable)

	_, err = tr.Train(context.Background(), "run", model.TaskInvoiceFlag)
	assert.ErrorIs(t, err, model.ErrDataUnavailable)
}

func TestTrainer_SourceError(t *testing.T) {
	boom := errors.New("connection refused")
	tr := New(testConfig(), &stubSource{err: boom}, newRegistry(t))

	_, err := tr.Run(context.Background(), []model.TaskID{model.TaskFreight})
	assert.ErrorIs(t, err, boom)
}

func TestTrainer_UnknownTask(t *testing.T) {
	tr := New(testConfig(), &stubSource{}, newRegistry(t))

	_, err := tr.Train(context.Background(), "run", model.TaskID("churn"))
	assert.ErrorIs(t, err, model.ErrUnknownTask)

	_, err = tr.Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestTrainer_RiskWithoutPositives(t *testing.T) {
	reg := newRegistry(t)
	tr := New(testConfig(), &stubSource{risk: riskRecords(60, 0)}, reg)

	_, err := tr.Train(context.Background(), "run", model.TaskInvoiceFlag)
	assert.ErrorIs(t, err, model.ErrSearchExhausted)

	_, err = reg.Load(context.Background(), model.TaskInvoiceFlag)
	assert.ErrorIs(t, err, model.ErrArtifactNotFound)
}

func TestTrainer_NullPolicyFail(t *testing.T) {
	records := riskRecords(40, 4)
	records[7].PO = nil

	cfg := testConfig()
	cfg.Labeling.NullAggregatePolicy = config.NullPolicyFail
	_, err := New(cfg, &stubSource{risk: records}, newRegistry(t)).Train(context.Background(), "run", model.TaskInvoiceFlag)
	assert.ErrorIs(t, err, model.ErrLabelingAmbiguous)

	res, err := New(testConfig(), &stubSource{risk: records}, newRegistry(t)).Train(context.Background(), "run", model.TaskInvoiceFlag)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Excluded)
}

type recordingSearcher struct {
	inner search.Searcher
	rows  int
}

func (r *recordingSearcher) Search(ctx context.Context, space search.Space, scorer search.Scorer, folds []split.Fold, X [][]float64, y []float64) (*search.Result, error) {
	r.rows = len(X)
	return r.inner.Search(ctx, space, scorer, folds, X, y)
}

func TestTrainer_SearchSeesTrainingPartitionOnly(t *testing.T) {
	cfg := testConfig()
	rec := &recordingSearcher{inner: search.NewGridSearch(cfg.Search, cfg.Split.Seed)}
	tr := New(cfg, &stubSource{risk: riskRecords(50, 4)}, newRegistry(t)).WithSearcher(rec)

	res, err := tr.Train(context.Background(), "run", model.TaskInvoiceFlag)
	require.NoError(t, err)
	assert.Equal(t, res.TrainRows, rec.rows)
	assert.Equal(t, 40, rec.rows)
}

func TestTrainer_SaveTriggersSubscribers(t *testing.T) {
	reg := newRegistry(t)
	var saved []model.TaskID
	reg.Subscribe(func(task model.TaskID) { saved = append(saved, task) })

	_, err := New(testConfig(), &stubSource{invoices: freightInvoices(30)}, reg).Train(context.Background(), "run", model.TaskFreight)
	require.NoError(t, err)
	assert.Equal(t, []model.TaskID{model.TaskFreight}, saved)
}

func TestReports(t *testing.T) {
	src := &stubSource{invoices: freightInvoices(50), risk: riskRecords(60, 4)}
	res, err := New(testConfig(), src, newRegistry(t)).Run(context.Background(), model.AllTasks)
	require.NoError(t, err)

	text := FormatReport(res)
	assert.Contains(t, text, res.RunID)
	assert.Contains(t, text, "Linear Regression *")
	assert.Contains(t, text, "cv_f1")
	assert.Contains(t, text, "weighted avg")
	assert.Contains(t, text, "Search: 4 configurations")
	assert.True(t, strings.Contains(text, "## freight") && strings.Contains(text, "## invoice_flag"))

	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, WriteXLSX(res, path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	names := make([]string, len(f.Sheets))
	for i, s := range f.Sheets {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"summary", "freight", "invoice_flag", "invoice_flag trials"}, names)
	assert.Len(t, f.Sheet["summary"].Rows, 3)
	assert.Len(t, f.Sheet["invoice_flag trials"].Rows, 5)
}

func TestFormatMetric(t *testing.T) {
	assert.Equal(t, "-", formatMetric(0, false))
	assert.Equal(t, "1,234.5000", formatMetric(1234.5, true))
}
