package predictor

import (
	"context"
	"sync"
)

const defaultMemoryCacheCap = 4096

// MemoryCache is a process-local verdict cache for single-node
// deployments and tests. Multi-node deployments use the Redis-backed
// cache so every control-plane process shares verdicts.
type MemoryCache struct {
	cap int

	mu       sync.RWMutex
	verdicts map[string]Verdict
}

// NewMemoryCache creates an in-process verdict cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		cap:      defaultMemoryCacheCap,
		verdicts: make(map[string]Verdict),
	}
}

// GetVerdict implements Cache.
func (c *MemoryCache) GetVerdict(_ context.Context, key string) (Verdict, bool, error) {
	c.mu.RLock()
	v, ok := c.verdicts[key]
	c.mu.RUnlock()
	return v, ok, nil
}

// PutVerdict implements Cache. When the cache is full an arbitrary
// entry is evicted; verdicts are cheap to recompute.
func (c *MemoryCache) PutVerdict(_ context.Context, key string, v Verdict) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.verdicts) >= c.cap {
		for k := range c.verdicts {
			delete(c.verdicts, k)
			break
		}
	}
	c.verdicts[key] = v
	return nil
}
