// Package cache provides the in-process caches and state-size controls used
// by the gateway and workflow layers: an LRU cache with per-entry TTL, a
// workflow state optimizer, and a lightweight performance monitor.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Entry is one cached value with its bookkeeping.
type Entry struct {
	Key       string
	Value     []byte
	CreatedAt time.Time
	TTL       time.Duration
	HitCount  int
}

// Expired reports whether the entry's TTL has elapsed at the given time.
// A zero TTL means the entry never expires.
func (e *Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > e.TTL
}

// Stats is a snapshot of cache performance counters.
type Stats struct {
	Size     int     `json:"size"`
	Capacity int     `json:"capacity"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
}

// LRU is a fixed-capacity cache with per-entry TTL and LRU eviction.
// All operations are O(1) and guarded by a single mutex.
type LRU struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = LRU, back = MRU
	entries  map[string]*list.Element
	hits     int64
	misses   int64

	// now is replaceable for tests.
	now func() time.Time
}

// NewLRU creates a cache with the given capacity and default TTL for Set.
func NewLRU(capacity int, defaultTTL time.Duration) *LRU {
	if capacity <= 0 {
		capacity = 128
	}
	return &LRU{
		capacity: capacity,
		ttl:      defaultTTL,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the cached value for key. An absent or expired entry is a
// miss; expired entries are deleted on access. A hit moves the entry to the
// MRU position and increments its hit counter.
func (c *LRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := elem.Value.(*Entry)
	if entry.Expired(c.now()) {
		c.removeElement(elem)
		c.misses++
		return nil, false
	}

	c.order.MoveToBack(elem)
	entry.HitCount++
	c.hits++
	return entry.Value, true
}

// Set inserts or replaces a value with the default TTL.
func (c *LRU) Set(key string, value []byte) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL inserts or replaces a value. At capacity, expired entries are
// swept first; if the cache is still full the LRU entry is evicted.
func (c *LRU) SetWithTTL(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*Entry)
		entry.Value = value
		entry.CreatedAt = c.now()
		entry.TTL = ttl
		c.order.MoveToBack(elem)
		return
	}

	if len(c.entries) >= c.capacity {
		c.sweepExpiredLocked()
	}
	if len(c.entries) >= c.capacity {
		if oldest := c.order.Front(); oldest != nil {
			c.removeElement(oldest)
		}
	}

	entry := &Entry{Key: key, Value: value, CreatedAt: c.now(), TTL: ttl}
	c.entries[key] = c.order.PushBack(entry)
}

// Delete removes a key if present.
func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeElement(elem)
	}
}

// Len returns the current number of entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetStats returns a snapshot of the cache counters.
func (c *LRU) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Size:     len(c.entries),
		Capacity: c.capacity,
		Hits:     c.hits,
		Misses:   c.misses,
		HitRate:  rate,
	}
}

func (c *LRU) sweepExpiredLocked() {
	now := c.now()
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*Entry).Expired(now) {
			c.removeElement(elem)
		}
		elem = next
	}
}

func (c *LRU) removeElement(elem *list.Element) {
	entry := elem.Value.(*Entry)
	delete(c.entries, entry.Key)
	c.order.Remove(elem)
}
