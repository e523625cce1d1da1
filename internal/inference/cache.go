package inference

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sells-group/invoice-intel/internal/artifact"
	"github.com/sells-group/invoice-intel/internal/model"
)

// Loader loads a persisted artifact. *artifact.Registry implements it.
type Loader interface {
	Load(ctx context.Context, task model.TaskID) (*artifact.Artifact, error)
}

// modelCache holds loaded artifacts keyed by task. A generation counter per
// task keeps a load that raced with Invalidate from caching a stale
// artifact.
type modelCache struct {
	mu      sync.RWMutex
	entries map[model.TaskID]*artifact.Artifact
	gens    map[model.TaskID]uint64
	hits    atomic.Int64
	misses  atomic.Int64
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

func newModelCache() *modelCache {
	return &modelCache{
		entries: make(map[model.TaskID]*artifact.Artifact),
		gens:    make(map[model.TaskID]uint64),
	}
}

// get returns the cached artifact, or nil and the generation to pass to put.
func (c *modelCache) get(task model.TaskID) (*artifact.Artifact, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if a, ok := c.entries[task]; ok {
		c.hits.Add(1)
		return a, 0
	}
	c.misses.Add(1)
	return nil, c.gens[task]
}

// put stores a unless task was invalidated since gen was read.
func (c *modelCache) put(task model.TaskID, gen uint64, a *artifact.Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[task] != gen {
		return
	}
	c.entries[task] = a
}

func (c *modelCache) invalidate(task model.TaskID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, task)
	c.gens[task]++
}

func (c *modelCache) stats() CacheStats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{Entries: entries, Hits: c.hits.Load(), Misses: c.misses.Load()}
}
