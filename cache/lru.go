// Package cache implements a generic bounded LRU cache with item-count and
// byte budgets. It has no knowledge of vectors; the storage layer reuses it
// verbatim as its full-precision rerank cache.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// SizeFunc maps a value to its byte cost for budget accounting.
type SizeFunc[V any] func(v V) int64

// EvictFunc is invoked synchronously, exactly once per evicted entry,
// before the entry is removed from internal bookkeeping.
type EvictFunc[K comparable, V any] func(key K, value V)

// Options configures an LRU cache.
type Options[K comparable, V any] struct {
	// MaxItems bounds the entry count. 0 means unbounded.
	MaxItems int

	// MaxBytes bounds cumulative SizeOf over live entries. 0 means unbounded.
	MaxBytes int64

	// SizeOf computes the byte cost of a value. If nil, every entry costs 1.
	SizeOf SizeFunc[V]

	// OnEvict is called for entries removed by LRU eviction.
	// It is not called for Delete or Clear.
	OnEvict EvictFunc[K, V]
}

// Metrics is a snapshot of cache accounting.
type Metrics struct {
	Hits      int64
	Misses    int64
	HitRate   float64
	Evictions int64
	Size      int   // current item count
	Bytes     int64 // current estimated byte usage
}

type entry[K comparable, V any] struct {
	key   K
	value V
	size  int64
}

// LRU is a mutex-guarded least-recently-used cache. Get, Set, Has and
// Delete are O(1) amortized.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	opts      Options[K, V]
	items     map[K]*list.Element
	evictList *list.List
	bytes     int64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a new LRU cache.
func New[K comparable, V any](optFns ...func(o *Options[K, V])) *LRU[K, V] {
	var opts Options[K, V]
	for _, fn := range optFns {
		fn(&opts)
	}
	return &LRU[K, V]{
		opts:      opts,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
	}
}

// Get returns the cached value and marks it most-recently-used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, true
	}
	var zero V
	c.misses.Add(1)
	return zero, false
}

// Peek returns the cached value without affecting recency or hit/miss
// accounting.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		return el.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Has reports whether key is cached, without affecting recency.
func (c *LRU[K, V]) Has(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Set inserts or overwrites a value, then evicts least-recently-used
// entries until both the item-count and byte budgets hold.
func (c *LRU[K, V]) Set(key K, value V) {
	size := c.sizeOf(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	// An entry larger than the whole byte budget can never fit.
	if c.opts.MaxBytes > 0 && size > c.opts.MaxBytes {
		if el, ok := c.items[key]; ok {
			c.removeElement(el)
		}
		return
	}

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry[K, V])
		c.bytes += size - ent.size
		ent.value = value
		ent.size = size
		c.evictList.MoveToFront(el)
		c.enforceBudgets()
		return
	}

	el := c.evictList.PushFront(&entry[K, V]{key: key, value: value, size: size})
	c.items[key] = el
	c.bytes += size
	c.enforceBudgets()
}

// Delete removes an entry. The eviction callback is not invoked.
func (c *LRU[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// Clear removes all entries. The eviction callback is not invoked and
// metrics are preserved; use ResetMetrics to clear accounting.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element)
	c.evictList.Init()
	c.bytes = 0
}

// Len returns the current entry count.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Bytes returns the current estimated byte usage.
func (c *LRU[K, V]) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Metrics returns a snapshot of cache accounting.
func (c *LRU[K, V]) Metrics() Metrics {
	c.mu.Lock()
	size := len(c.items)
	bytes := c.bytes
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	m := Metrics{
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		Size:      size,
		Bytes:     bytes,
	}
	if total := hits + misses; total > 0 {
		m.HitRate = float64(hits) / float64(total)
	}
	return m
}

// ResetMetrics clears hit/miss/eviction counters without touching contents.
func (c *LRU[K, V]) ResetMetrics() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}

func (c *LRU[K, V]) sizeOf(v V) int64 {
	if c.opts.SizeOf != nil {
		return c.opts.SizeOf(v)
	}
	return 1
}

// enforceBudgets evicts from the back of the recency list until both
// budgets hold. Caller must hold c.mu.
func (c *LRU[K, V]) enforceBudgets() {
	for {
		overItems := c.opts.MaxItems > 0 && len(c.items) > c.opts.MaxItems
		overBytes := c.opts.MaxBytes > 0 && c.bytes > c.opts.MaxBytes
		if !overItems && !overBytes {
			return
		}
		el := c.evictList.Back()
		if el == nil {
			return
		}
		ent := el.Value.(*entry[K, V])
		if c.opts.OnEvict != nil {
			c.opts.OnEvict(ent.key, ent.value)
		}
		c.removeElement(el)
		c.evictions.Add(1)
	}
}

// removeElement unlinks an entry. Caller must hold c.mu.
func (c *LRU[K, V]) removeElement(el *list.Element) {
	ent := el.Value.(*entry[K, V])
	c.evictList.Remove(el)
	delete(c.items, ent.key)
	c.bytes -= ent.size
}
