// Package cache provides the in-process and Redis caches used for distance
// lookups and finished reports.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/tripwire/internal/metrics"
)

// LRUCache is a size-bounded in-process cache. Entries are keyed by tenant
// and expire lazily on read.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[lruKey]*list.Element
	recency  *list.List // front is most recent
	hits     uint64
	misses   uint64
	now      func() time.Time
}

type lruKey struct {
	tenant string
	key    string
}

type lruEntry struct {
	id      lruKey
	value   []byte
	expires time.Time // zero never expires
}

// Stats is a point-in-time view of LRU usage.
type Stats struct {
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
}

// NewLRUCache holds at most capacity entries; non-positive means 10000.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LRUCache{
		capacity: capacity,
		entries:  make(map[lruKey]*list.Element),
		recency:  list.New(),
		now:      time.Now,
	}
}

func (c *LRUCache) Get(_ context.Context, tenantID, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[lruKey{tenantID, key}]
	if !ok {
		c.misses++
		metrics.CacheLookups.WithLabelValues("lru", "miss").Inc()
		return nil, nil
	}
	e := elem.Value.(*lruEntry)
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.drop(elem)
		c.misses++
		metrics.CacheLookups.WithLabelValues("lru", "expired").Inc()
		return nil, nil
	}

	c.recency.MoveToFront(elem)
	c.hits++
	metrics.CacheLookups.WithLabelValues("lru", "hit").Inc()
	return e.value, nil
}

// Set stores value for ttl. A non-positive ttl keeps the entry until it is
// evicted.
func (c *LRUCache) Set(_ context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	id := lruKey{tenantID, key}

	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}

	if elem, ok := c.entries[id]; ok {
		e := elem.Value.(*lruEntry)
		e.value, e.expires = value, expires
		c.recency.MoveToFront(elem)
		return nil
	}

	c.entries[id] = c.recency.PushFront(&lruEntry{id: id, value: value, expires: expires})
	for c.recency.Len() > c.capacity {
		c.drop(c.recency.Back())
		metrics.CacheEvictions.Inc()
	}
	return nil
}

func (c *LRUCache) Delete(_ context.Context, tenantID, key string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[lruKey{tenantID, key}]; ok {
		c.drop(elem)
	}
	return nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[lruKey]*list.Element)
	c.recency.Init()
	return nil
}

func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Size: c.recency.Len(), Capacity: c.capacity, Hits: c.hits, Misses: c.misses}
}

func (c *LRUCache) drop(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.entries, elem.Value.(*lruEntry).id)
}
