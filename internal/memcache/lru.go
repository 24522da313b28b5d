// This module implements a cost and count bounded LRU.
// Eviction Policy:
// Every Get moves the entry to the front of a doubly linked list, every Put inserts at the front.
// After an insertion (or a limit change) entries are evicted from the back, one at a time, until both the
// aggregate cost and the entry count are within their limits. A zero limit means "unbounded".
// Pressure Policy:
// An external low-memory signal purges the whole store; partial trimming on pressure is not supported.

package memcache

import (
	"context"
	"sync"

	"github.com/any-hub/imagehub/internal/imaging"
)

// lruEntry links the cache key and its image to a list node.
type lruEntry struct {
	key   string
	image *imaging.Image
	cost  int64
}

// Options configures an LRU.
type Options struct {
	CostLimit  int64 // Maximum aggregate cost in bytes; 0 means unbounded.
	CountLimit int   // Maximum number of entries; 0 means unbounded.
	// OnEvict is called for every entry dropped because of limits or pressure (not for explicit Remove).
	// It runs while the store lock is held, so it must not call back into the store.
	OnEvict func(key string, img *imaging.Image)
}

// LRU is a thread-safe least-recently-used image store bounded by cost and entry count.
type LRU struct {
	mux        sync.Mutex // Get mutates recency, so even reads take the exclusive lock.
	index      map[string]*listNode[*lruEntry]
	order      linkedList[*lruEntry]
	totalCost  int64
	costLimit  int64
	countLimit int
	onEvict    func(key string, img *imaging.Image)
}

var _ Layer = (*LRU)(nil)

// NewLRU builds an empty LRU. Negative limits are treated as unbounded.
func NewLRU(opts Options) *LRU {
	lru := &LRU{
		index:   make(map[string]*listNode[*lruEntry]),
		onEvict: opts.OnEvict,
	}
	lru.costLimit = max(opts.CostLimit, 0)
	lru.countLimit = max(opts.CountLimit, 0)
	return lru
}

// Get retrieves an image and marks it as the most recently used entry.
func (c *LRU) Get(key string) (*imaging.Image, bool /*found*/) {
	c.mux.Lock()
	defer c.mux.Unlock()

	node, ok := c.index[key]
	if !ok {
		lookupsMetric.WithLabelValues("miss").Inc()
		return nil, false
	}
	c.order.MoveToFront(node)
	lookupsMetric.WithLabelValues("hit").Inc()
	return node.Value.image, true
}

// Put adds or overwrites an entry and evicts least recently used entries until the limits hold again.
func (c *LRU) Put(key string, img *imaging.Image, cost int64) {
	if img == nil {
		return
	}
	if cost <= 0 {
		cost = img.Cost()
	}

	c.mux.Lock()
	defer c.mux.Unlock()

	if node, ok := c.index[key]; ok {
		c.totalCost += cost - node.Value.cost
		node.Value.image = img
		node.Value.cost = cost
		c.order.MoveToFront(node)
	} else {
		c.index[key] = c.order.PushFront(&lruEntry{key: key, image: img, cost: cost})
		c.totalCost += cost
	}
	c.trimLocked()
}

// Remove deletes an entry; absent keys are ignored.
func (c *LRU) Remove(key string) {
	c.mux.Lock()
	defer c.mux.Unlock()

	if node, ok := c.index[key]; ok {
		c.removeLocked(node)
	}
}

// Purge drops every entry without calling OnEvict.
func (c *LRU) Purge() {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.purgeLocked()
}

// Len returns the number of entries.
func (c *LRU) Len() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.order.Len()
}

// Cost returns the aggregate cost of all entries.
func (c *LRU) Cost() int64 {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.totalCost
}

// Keys returns the keys from most to least recently used.
func (c *LRU) Keys() []string {
	c.mux.Lock()
	defer c.mux.Unlock()

	keys := make([]string, 0, c.order.Len())
	for node := c.order.Front(); node != nil; node = node.next {
		keys = append(keys, node.Value.key)
	}
	return keys
}

// SetLimits changes both limits and evicts immediately if the store is now over budget.
func (c *LRU) SetLimits(costLimit int64, countLimit int) {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.costLimit = max(costLimit, 0)
	c.countLimit = max(countLimit, 0)
	c.trimLocked()
}

// HandlePressure responds to a low-memory signal by dropping every entry.
func (c *LRU) HandlePressure() {
	c.mux.Lock()
	defer c.mux.Unlock()

	for node := c.order.Front(); node != nil; node = node.next {
		evictionsMetric.WithLabelValues("pressure").Inc()
		if c.onEvict != nil {
			c.onEvict(node.Value.key, node.Value.image)
		}
	}
	c.purgeLocked()
}

// WatchPressure purges the store each time a signal arrives, until ctx is done or signals is closed.
func (c *LRU) WatchPressure(ctx context.Context, signals <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
			c.HandlePressure()
		}
	}
}

func (c *LRU) overLimitLocked() bool {
	return (c.costLimit > 0 && c.totalCost > c.costLimit) ||
		(c.countLimit > 0 && c.order.Len() > c.countLimit)
}

func (c *LRU) trimLocked() {
	for c.overLimitLocked() {
		node := c.order.Back()
		if node == nil {
			break
		}
		c.removeLocked(node)
		evictionsMetric.WithLabelValues("capacity").Inc()
		if c.onEvict != nil {
			c.onEvict(node.Value.key, node.Value.image)
		}
	}
}

func (c *LRU) removeLocked(node *listNode[*lruEntry]) {
	c.order.Remove(node)
	delete(c.index, node.Value.key)
	c.totalCost -= node.Value.cost
}

func (c *LRU) purgeLocked() {
	c.index = make(map[string]*listNode[*lruEntry])
	c.order.Clear()
	c.totalCost = 0
}
