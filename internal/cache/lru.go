package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/mgci/internal/raster"
)

// LRU is a concurrent-safe in-process reduction cache with TTL expiration.
// A zero TTL keeps entries until they are evicted.
type LRU struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type lruEntry struct {
	key      string
	value    raster.Reduction
	storedAt time.Time
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewLRU creates an LRU holding at most maxEntries reductions.
func NewLRU(maxEntries int, ttl time.Duration) *LRU {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &LRU{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns the cached reduction for key.
func (c *LRU) Get(key string) (raster.Reduction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return raster.Reduction{}, false
	}
	e := el.Value.(*lruEntry)
	if c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		c.misses.Add(1)
		return raster.Reduction{}, false
	}
	c.order.MoveToFront(el)
	c.hits.Add(1)
	return e.value, true
}

// Put stores a reduction, evicting the least recently used entry at capacity.
func (c *LRU) Put(key string, v raster.Reduction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*lruEntry)
		e.value, e.storedAt = v, c.now()
		c.order.MoveToFront(el)
		return
	}
	for c.order.Len() >= c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lruEntry).key)
	}
	c.entries[key] = c.order.PushFront(&lruEntry{key: key, value: v, storedAt: c.now()})
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cache performance statistics.
func (c *LRU) Stats() Stats {
	entries := c.Len()
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}
