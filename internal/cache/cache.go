// Package cache keeps reference-side results between repeated runs of a
// variant so seeded reruns can be checked for bit-identical output.
package cache

import (
	"sync"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Run is one reference forward/backward result.
type Run struct {
	Output *tensor.Tensor
	Grads  *tensor.Dict
}

// RunCache defines a generic interface for caching reference runs.
type RunCache interface {
	// Get retrieves a run from the cache.
	Get(key string) (Run, bool)
	// Put stores a run in the cache.
	Put(key string, r Run)
	// Size returns the number of items in the cache.
	Size() int
}

// MapCache is a simple in-memory implementation of RunCache.
type MapCache struct {
	data map[string]Run
	mu   sync.RWMutex
}

func NewMapCache() *MapCache {
	return &MapCache{
		data: make(map[string]Run),
	}
}

func (c *MapCache) Get(key string) (Run, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Return copy to avoid modification of cached value
	if r, ok := c.data[key]; ok {
		return clone(r), true
	}
	return Run{}, false
}

func (c *MapCache) Put(key string, r Run) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = clone(r)
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func clone(r Run) Run {
	var out Run
	if r.Output != nil {
		out.Output = r.Output.Clone()
	}
	if r.Grads != nil {
		out.Grads = tensor.NewDict()
		for _, k := range r.Grads.Keys() {
			g, _ := r.Grads.Get(k)
			out.Grads.Set(k, g.Clone())
		}
	}
	return out
}
