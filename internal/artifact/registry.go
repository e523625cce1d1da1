package artifact

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-intel/internal/learn"
	"github.com/sells-group/invoice-intel/internal/model"
	"github.com/sells-group/invoice-intel/internal/preprocess"
)

// envelopeVersion is bumped whenever the payload layout changes.
const envelopeVersion = 1

// Meta describes the training run that produced an artifact.
type Meta struct {
	RunID     string             `json:"run_id"`
	TrainedAt time.Time          `json:"trained_at"`
	Champion  string             `json:"champion"`
	Features  []string           `json:"features"`
	Params    map[string]any     `json:"params,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Artifact is a loaded, immutable model bundle.
type Artifact struct {
	Task      model.TaskID
	Model     learn.Model
	Transform preprocess.Transform // nil when the task uses raw features
	Meta      Meta
}

// Features returns the ordered input schema.
func (a *Artifact) Features() []string {
	return append([]string(nil), a.Meta.Features...)
}

type payload struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type envelope struct {
	Version   int          `json:"version"`
	Task      model.TaskID `json:"task"`
	Model     payload      `json:"model"`
	Transform *payload     `json:"transform,omitempty"`
	Meta      Meta         `json:"meta"`
}

// Registry saves and loads artifacts by task id over a BlobStore.
type Registry struct {
	blobs BlobStore

	mu    sync.RWMutex
	hooks []func(model.TaskID)
}

// NewRegistry wraps blobs.
func NewRegistry(blobs BlobStore) *Registry {
	return &Registry{blobs: blobs}
}

// Subscribe registers fn to run after every successful Save.
func (r *Registry) Subscribe(fn func(task model.TaskID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Save serializes the bundle and replaces any artifact stored for task.
// meta.Features must match the model width and the transform schema.
// Non-finite metrics are dropped since JSON cannot carry them.
func (r *Registry) Save(ctx context.Context, task model.TaskID, m learn.Model, t preprocess.Transform, meta Meta) (*Artifact, error) {
	if m == nil {
		return nil, eris.Errorf("artifact: save %s without a model", task)
	}
	if len(meta.Features) != m.NumFeatures() {
		return nil, eris.Wrapf(model.ErrShapeMismatch, "artifact: save %s: %d features for a %d-feature model", task, len(meta.Features), m.NumFeatures())
	}
	if t != nil {
		if err := preprocess.CheckSchema(t.Features(), meta.Features); err != nil {
			return nil, eris.Wrapf(err, "artifact: save %s", task)
		}
	}

	meta.Features = append([]string(nil), meta.Features...)
	meta.Metrics = finiteMetrics(meta.Metrics)
	if meta.TrainedAt.IsZero() {
		meta.TrainedAt = time.Now().UTC()
	}

	env := envelope{Version: envelopeVersion, Task: task, Meta: meta}
	kind, raw, err := learn.Encode(m)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: save %s", task)
	}
	env.Model = payload{Kind: kind, Data: raw}
	if t != nil {
		kind, raw, err := preprocess.Encode(t)
		if err != nil {
			return nil, eris.Wrapf(err, "artifact: save %s", task)
		}
		env.Transform = &payload{Kind: kind, Data: raw}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: marshal %s", task)
	}
	if err := r.blobs.Put(ctx, string(task), data); err != nil {
		return nil, eris.Wrapf(err, "artifact: save %s", task)
	}

	zap.L().Info("artifact: saved",
		zap.String("task", string(task)),
		zap.String("run_id", meta.RunID),
		zap.String("champion", meta.Champion),
		zap.Int("bytes", len(data)),
	)

	r.mu.RLock()
	hooks := append([]func(model.TaskID){}, r.hooks...)
	r.mu.RUnlock()
	for _, fn := range hooks {
		fn(task)
	}

	return &Artifact{Task: task, Model: m, Transform: t, Meta: meta}, nil
}

// Load reads and decodes the artifact for task.
func (r *Registry) Load(ctx context.Context, task model.TaskID) (*Artifact, error) {
	data, err := r.blobs.Get(ctx, string(task))
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: load %s", task)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, eris.Wrapf(err, "artifact: decode %s", task)
	}
	if env.Version != envelopeVersion {
		return nil, eris.Errorf("artifact: %s has version %d, want %d", task, env.Version, envelopeVersion)
	}
	if env.Task != task {
		return nil, eris.Errorf("artifact: key %s holds an artifact for %s", task, env.Task)
	}

	m, err := learn.Decode(env.Model.Kind, env.Model.Data)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: load %s", task)
	}
	if len(env.Meta.Features) != m.NumFeatures() {
		return nil, eris.Wrapf(model.ErrShapeMismatch, "artifact: %s schema has %d features, model has %d", task, len(env.Meta.Features), m.NumFeatures())
	}

	a := &Artifact{Task: task, Model: m, Meta: env.Meta}
	if env.Transform != nil {
		t, err := preprocess.Decode(env.Transform.Kind, env.Transform.Data)
		if err != nil {
			return nil, eris.Wrapf(err, "artifact: load %s", task)
		}
		if err := preprocess.CheckSchema(t.Features(), env.Meta.Features); err != nil {
			return nil, eris.Wrapf(err, "artifact: load %s", task)
		}
		a.Transform = t
	}
	return a, nil
}

// Close closes the underlying store.
func (r *Registry) Close() error {
	return r.blobs.Close()
}

func finiteMetrics(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	return out
}
