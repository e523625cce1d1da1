// Package server exposes the inference service over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/invoice-intel/internal/artifact"
	"github.com/sells-group/invoice-intel/internal/config"
	"github.com/sells-group/invoice-intel/internal/inference"
	"github.com/sells-group/invoice-intel/internal/model"
)

// maxBodyBytes bounds predict request bodies.
const maxBodyBytes = 10 << 20

// PredictRequest is the body of POST /v1/predict/{task}.
type PredictRequest struct {
	Records inference.Columns `json:"records"`
}

// PredictResponse is returned by POST /v1/predict/{task}.
type PredictResponse struct {
	Task        model.TaskID     `json:"task"`
	OutputField string           `json:"output_field"`
	Columns     []string         `json:"columns"`
	Rows        []map[string]any `json:"rows"`
}

// ModelInfo describes the artifact serving a task.
type ModelInfo struct {
	Task      model.TaskID       `json:"task"`
	RunID     string             `json:"run_id"`
	TrainedAt time.Time          `json:"trained_at"`
	Champion  string             `json:"champion"`
	Kind      string             `json:"kind"`
	Features  []string           `json:"features"`
	Scaled    bool               `json:"scaled"`
	Params    map[string]any     `json:"params,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Server routes HTTP requests to an inference.Service.
type Server struct {
	svc     *inference.Service
	limiter *rate.Limiter
	metrics *metrics
	router  chi.Router
}

// New builds the router. Metrics are registered on reg and served at
// /metrics.
func New(svc *inference.Service, cfg config.ServerConfig, reg *prometheus.Registry) *Server {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	s := &Server{
		svc:     svc,
		limiter: rate.NewLimiter(limit, max(cfg.RateBurst, 1)),
		metrics: newMetrics(reg, svc),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Route("/v1", func(r chi.Router) {
		r.Post("/predict/{task}", s.handlePredict)
		r.Get("/models/{task}", s.handleModel)
		r.Post("/models/{task}/reload", s.handleReload)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	task := model.TaskID(chi.URLParam(r, "task"))
	if !s.limiter.Allow() {
		s.metrics.throttled.Inc()
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	start := time.Now()
	status := http.StatusOK
	defer func() {
		label := taskLabel(task)
		s.metrics.predictions.WithLabelValues(label, strconv.Itoa(status)).Inc()
		s.metrics.latency.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	var req PredictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		status = http.StatusBadRequest
		writeError(w, status, "invalid request body")
		return
	}
	if req.Records == nil {
		status = http.StatusBadRequest
		writeError(w, status, "records is required")
		return
	}

	pred, err := s.svc.Predict(r.Context(), task, req.Records)
	if err != nil {
		status = s.fail(w, r, task, err)
		return
	}
	s.metrics.rows.WithLabelValues(string(task)).Add(float64(pred.Len()))

	writeJSON(w, http.StatusOK, PredictResponse{
		Task:        pred.Task,
		OutputField: pred.OutputField,
		Columns:     pred.Columns(),
		Rows:        pred.Rows(),
	})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	task := model.TaskID(chi.URLParam(r, "task"))
	a, err := s.svc.Artifact(r.Context(), task)
	if err != nil {
		s.fail(w, r, task, err)
		return
	}
	writeJSON(w, http.StatusOK, modelInfo(a))
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	task := model.TaskID(chi.URLParam(r, "task"))
	a, err := s.svc.Reload(r.Context(), task)
	if err != nil {
		s.fail(w, r, task, err)
		return
	}
	zap.L().Info("server: model reloaded", zap.String("task", string(task)), zap.String("run_id", a.Meta.RunID))
	writeJSON(w, http.StatusOK, modelInfo(a))
}

// fail maps err onto a status code, writes it and returns the status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, task model.TaskID, err error) int {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		zap.L().Error("server: request failed",
			zap.String("task", string(task)),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, msg)
	return status
}

// taskLabel keeps arbitrary path values out of metric labels.
func taskLabel(task model.TaskID) string {
	if _, err := model.ParseTask(string(task)); err != nil {
		return "unknown"
	}
	return string(task)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrArtifactNotFound):
		return http.StatusNotFound, model.ErrArtifactNotFound.Error()
	case errors.Is(err, model.ErrFeatureMissing), errors.Is(err, model.ErrShapeMismatch):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func modelInfo(a *artifact.Artifact) ModelInfo {
	return ModelInfo{
		Task:      a.Task,
		RunID:     a.Meta.RunID,
		TrainedAt: a.Meta.TrainedAt,
		Champion:  a.Meta.Champion,
		Kind:      a.Model.Kind(),
		Features:  a.Features(),
		Scaled:    a.Transform != nil,
		Params:    a.Meta.Params,
		Metrics:   a.Meta.Metrics,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
