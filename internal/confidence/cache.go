package confidence

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheEntry pairs a computed Result with when it was computed and its
// version. Get returns the Result alone; the entry's age is not checked.
type cacheEntry struct {
	result     Result
	computedAt time.Time
	version    int64
}

// Cache is a bounded, per-claim confidence cache. It is rebuildable from the
// relational store at any time; losing it is never a data-loss event, only
// a cost in recomputation.
type Cache struct {
	mu      sync.Mutex
	lru     *lru.Cache[string, cacheEntry]
	version map[string]int64
}

// NewCache builds a Cache bounded to capacity entries.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 10000
	}
	c, _ := lru.New[string, cacheEntry](capacity)
	return &Cache{lru: c, version: make(map[string]int64)}
}

// Get returns the cached Result for claimID, if present.
func (c *Cache) Get(claimID string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.lru.Get(claimID)
	if !ok {
		return Result{}, false
	}
	return entry.result, true
}

// Set stores a freshly computed Result, bumping claimID's version.
func (c *Cache) Set(claimID string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version[claimID]++
	c.lru.Add(claimID, cacheEntry{result: result, computedAt: time.Now().UTC(), version: c.version[claimID]})
}

// Remove invalidates claimID's cached entry without recomputing it,
// bumping its version so a stale read elsewhere can detect the change.
func (c *Cache) Remove(claimID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version[claimID]++
	c.lru.Remove(claimID)
}

// Version returns claimID's current invalidation version, for callers that
// need to detect whether a long-running recomputation's result is already
// stale by the time it completes.
func (c *Cache) Version(claimID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version[claimID]
}
