// Package searchcache implements the Search Cache (C4): an LRU cache
// with per-entry TTL keyed on the full search signature
// (queryString, isRegex, startTime, endTime).
package searchcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/grepwise/grepwise/internal/model"
)

// Key is the cache key tuple. Unbounded start/end times are represented
// by nil pointers, matching spec's "startTime|null, endTime|null".
type Key struct {
	QueryString string
	IsRegex     bool
	StartTime   *int64
	EndTime     *int64
}

// Stats is the cache's point-in-time health snapshot.
type Stats struct {
	Enabled       bool
	Size          int
	MaxSize       int
	ExpirationMs  int64
	Hits          int64
	Misses        int64
	Evictions     int64
	HitRatio      float64
}

type entry struct {
	key       Key
	records   []model.LogRecord
	expiresAt time.Time
}

// Cache is a concurrency-safe LRU+TTL cache of search results.
type Cache struct {
	mu sync.Mutex

	enabled    bool
	maxSize    int
	expiration time.Duration

	ll    *list.List // front = most recently used
	items map[Key]*list.Element

	hits      int64
	misses    int64
	evictions int64

	now func() time.Time
}

// New constructs a Cache. If maxSize <= 0 the cache behaves as disabled.
func New(enabled bool, maxSize int, expiration time.Duration) *Cache {
	return &Cache{
		enabled:    enabled && maxSize > 0,
		maxSize:    maxSize,
		expiration: expiration,
		ll:         list.New(),
		items:      make(map[Key]*list.Element),
		now:        time.Now,
	}
}

// Get returns a copy of the cached records for key, and whether the
// lookup was a hit. Expired entries are evicted and treated as misses.
func (c *Cache) Get(key Key) ([]model.LogRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return nil, false
	}

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeElement(el)
		c.evictions++
		c.misses++
		return nil, false
	}

	c.ll.MoveToFront(el)
	c.hits++
	out := make([]model.LogRecord, len(e.records))
	copy(out, e.records)
	return out, true
}

// Put stores records under key, evicting expired entries first and then
// the least-recently-used entry if the cache is at capacity. A no-op
// when the cache is disabled.
func (c *Cache) Put(key Key, records []model.LogRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}

	stored := make([]model.LogRecord, len(records))
	copy(stored, records)

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).records = stored
		el.Value.(*entry).expiresAt = c.now().Add(c.expiration)
		c.ll.MoveToFront(el)
		return
	}

	c.evictExpiredLocked()
	for c.ll.Len() >= c.maxSize && c.maxSize > 0 {
		c.evictLRULocked()
	}

	el := c.ll.PushFront(&entry{key: key, records: stored, expiresAt: c.now().Add(c.expiration)})
	c.items[key] = el
}

// Clear empties the cache without affecting hit/miss/eviction counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[Key]*list.Element)
}

// InvalidateRange removes every cached entry whose time range overlaps
// [startMs, endMs]. A nil Key.StartTime/EndTime is treated as unbounded
// and therefore always overlapping.
func (c *Cache) InvalidateRange(startMs, endMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next *list.Element
	for el := c.ll.Front(); el != nil; el = next {
		next = el.Next()
		e := el.Value.(*entry)
		if rangesOverlap(e.key.StartTime, e.key.EndTime, startMs, endMs) {
			c.removeElement(el)
		}
	}
}

// rangesOverlap reports whether a cached entry's [keyStart, keyEnd]
// range intersects [start, end]. A nil bound is unbounded in that
// direction, so it always overlaps on that side.
func rangesOverlap(keyStart, keyEnd *int64, start, end int64) bool {
	if keyStart != nil && *keyStart > end {
		return false
	}
	if keyEnd != nil && *keyEnd < start {
		return false
	}
	return true
}

// Stats returns a point-in-time snapshot of cache health.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var ratio float64
	if total > 0 {
		ratio = float64(c.hits) / float64(total)
	}
	return Stats{
		Enabled:      c.enabled,
		Size:         c.ll.Len(),
		MaxSize:      c.maxSize,
		ExpirationMs: c.expiration.Milliseconds(),
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
		HitRatio:     ratio,
	}
}

func (c *Cache) evictExpiredLocked() {
	var next *list.Element
	for el := c.ll.Back(); el != nil; el = next {
		next = el.Prev()
		e := el.Value.(*entry)
		if c.now().After(e.expiresAt) {
			c.removeElement(el)
			c.evictions++
		}
	}
}

func (c *Cache) evictLRULocked() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	c.removeElement(el)
	c.evictions++
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.items, e.key)
	c.ll.Remove(el)
}
