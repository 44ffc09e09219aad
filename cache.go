package homerelay

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"
)

// Cache is a bounded key/value store with per-entry TTL. A read past an
// entry's TTL is a miss and removes the stale entry.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Invalidate(key string) bool
	Clear()
}

// CacheStats is a point-in-time snapshot of cache occupancy and churn.
type CacheStats struct {
	Entries        int
	Bytes          int
	MaxBytes       int
	Hits           uint64
	Misses         uint64
	Evictions      uint64
	EmergencyWipes uint64
}

// Pressure thresholds as fractions of the byte budget. Maintenance responds
// in stages: expired-entry sweep, LRU eviction back under the sweep line,
// deep LRU eviction, and finally a full wipe that trades the whole cache for
// survival of the host process.
const (
	pressureSweep     = 0.75
	pressureEvict     = 0.85
	pressureEvictHard = 0.95
	pressureWipe      = 0.98
)

type cacheEntry struct {
	key        string
	value      any
	insertedAt time.Time
	ttl        time.Duration
	size       int
	elem       *list.Element
}

func (e *cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.insertedAt) > e.ttl
}

// MemoryCache is the in-memory Cache used by the runtime: a map plus an LRU
// list, bounded by an aggregate size estimate. Eviction order under pressure
// is least-recently-used. Safe for concurrent use.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	lru        *list.List // front = most recently used
	totalBytes int
	maxBytes   int
	defaultTTL time.Duration
	maxTTL     time.Duration
	now        func() time.Time

	hits      uint64
	misses    uint64
	evictions uint64
	wipes     uint64
}

// NewMemoryCache creates a cache bounded to roughly maxBytes of estimated
// value size, with defaultTTL applied when Set receives a non-positive TTL.
func NewMemoryCache(maxBytes int, defaultTTL time.Duration) *MemoryCache {
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &MemoryCache{
		entries:    make(map[string]*cacheEntry),
		lru:        list.New(),
		maxBytes:   maxBytes,
		defaultTTL: defaultTTL,
		maxTTL:     time.Hour,
		now:        time.Now,
	}
}

// Get returns the live value for key. Expired entries are removed and
// reported as misses; an evicted entry is never returned afterwards.
func (c *MemoryCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	if e.expired(c.now()) {
		c.remove(e)
		c.misses++
		return nil, false
	}

	c.lru.MoveToFront(e.elem)
	c.hits++
	return e.value, true
}

// Set stores value under key. TTLs are clamped to the configured maximum;
// non-positive TTLs take the default. Each write runs an opportunistic
// maintenance pass.
func (c *MemoryCache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if ttl > c.maxTTL {
		ttl = c.maxTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.remove(old)
	}

	e := &cacheEntry{
		key:        key,
		value:      value,
		insertedAt: c.now(),
		ttl:        ttl,
		size:       estimateSize(value),
	}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e
	c.totalBytes += e.size

	c.maintain()
}

// Invalidate removes key, reporting whether it was present.
func (c *MemoryCache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.remove(e)
	return true
}

// Clear atomically drops every entry; no reader observes a partial cache.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

// Maintain runs the pressure-staged maintenance pass explicitly. Writes run
// it opportunistically; callers with long read-only phases may invoke it
// between invocations.
func (c *MemoryCache) Maintain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maintain()
}

// Stats returns current counters and occupancy.
func (c *MemoryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Entries:        len(c.entries),
		Bytes:          c.totalBytes,
		MaxBytes:       c.maxBytes,
		Hits:           c.hits,
		Misses:         c.misses,
		Evictions:      c.evictions,
		EmergencyWipes: c.wipes,
	}
}

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// maintain applies the staged pressure response. Caller holds c.mu.
func (c *MemoryCache) maintain() {
	if c.pressure() < pressureSweep {
		return
	}

	c.sweepExpired()

	if c.pressure() >= pressureWipe {
		c.wipes++
		c.clearLocked()
		return
	}

	if c.pressure() >= pressureEvictHard {
		c.evictLRU(0.50)
		return
	}

	if c.pressure() >= pressureEvict {
		c.evictLRU(pressureSweep)
	}
}

func (c *MemoryCache) pressure() float64 {
	return float64(c.totalBytes) / float64(c.maxBytes)
}

// sweepExpired drops every expired entry. Caller holds c.mu.
func (c *MemoryCache) sweepExpired() {
	now := c.now()
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*cacheEntry)
		if e.expired(now) {
			c.remove(e)
			c.evictions++
		}
		elem = prev
	}
}

// evictLRU removes least-recently-used entries until pressure drops to the
// target fraction. Caller holds c.mu.
func (c *MemoryCache) evictLRU(target float64) {
	for c.pressure() > target {
		elem := c.lru.Back()
		if elem == nil {
			return
		}
		c.remove(elem.Value.(*cacheEntry))
		c.evictions++
	}
}

// remove unlinks an entry from both structures. Caller holds c.mu.
func (c *MemoryCache) remove(e *cacheEntry) {
	delete(c.entries, e.key)
	c.lru.Remove(e.elem)
	c.totalBytes -= e.size
}

func (c *MemoryCache) clearLocked() {
	c.entries = make(map[string]*cacheEntry)
	c.lru.Init()
	c.totalBytes = 0
}

// estimateSize approximates the in-memory footprint of a cached value. Cheap
// paths for common shapes, a JSON round-trip for the rest; the estimate only
// has to be proportional, not exact.
func estimateSize(v any) int {
	const overhead = 64

	switch t := v.(type) {
	case nil:
		return overhead
	case string:
		return overhead + len(t)
	case []byte:
		return overhead + len(t)
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return overhead + 8
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return overhead + 256
		}
		return overhead + len(b)
	}
}
