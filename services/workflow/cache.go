package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// GraphCache memoizes graph conversions keyed on the upstream data they were
// built from, so unchanged workflows are not rebuilt. Oldest entries are
// evicted first once size is reached. It is safe for concurrent use.
type GraphCache struct {
	mu    sync.Mutex
	size  int
	order []string
	items map[string]Graph
}

// NewGraphCache returns a cache holding at most size graphs (minimum 1).
func NewGraphCache(size int) *GraphCache {
	if size < 1 {
		size = 1
	}
	return &GraphCache{size: size, items: make(map[string]Graph, size)}
}

// CacheKey derives the memo key for a workflow id and its raw steps.
func CacheKey(workflowID string, steps []byte) string {
	h := sha256.New()
	h.Write([]byte(workflowID))
	h.Write([]byte{0})
	h.Write(steps)
	return hex.EncodeToString(h.Sum(nil))
}

// GetOrBuild returns the cached graph for key, calling build on a miss. The
// second return value reports a hit. Callers get their own copy.
func (c *GraphCache) GetOrBuild(key string, build func() Graph) (Graph, bool) {
	c.mu.Lock()
	if g, ok := c.items[key]; ok {
		c.mu.Unlock()
		return cloneGraph(g), true
	}
	c.mu.Unlock()

	g := build()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		if len(c.order) >= c.size {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.items, oldest)
		}
		c.order = append(c.order, key)
		c.items[key] = cloneGraph(g)
	}
	return g, false
}

// Len reports the number of cached graphs.
func (c *GraphCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
