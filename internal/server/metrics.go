package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/invoice-intel/internal/inference"
)

type metrics struct {
	predictions *prometheus.CounterVec
	rows        *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	throttled   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, svc *inference.Service) *metrics {
	m := &metrics{
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_intel_predictions_total",
			Help: "Predict requests by task and outcome.",
		}, []string{"task", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_intel_predicted_rows_total",
			Help: "Rows scored by task.",
		}, []string{"task"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "invoice_intel_predict_duration_seconds",
			Help:    "Predict latency by task.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task"}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "invoice_intel_predict_throttled_total",
			Help: "Predict requests rejected by the rate limiter.",
		}),
	}
	reg.MustRegister(m.predictions, m.rows, m.latency, m.throttled,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "invoice_intel_model_cache_hits_total",
			Help: "Model cache hits.",
		}, func() float64 { return float64(svc.Stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "invoice_intel_model_cache_misses_total",
			Help: "Model cache misses.",
		}, func() float64 { return float64(svc.Stats().Misses) }),
	)
	return m
}
