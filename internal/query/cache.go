package query

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// resultCache is a read-through cache for per-pollutant query results,
// keyed by (location, pollutant, window, horizon).
//
// Concurrency policy: at most one computation is in flight per key;
// concurrent callers for the same key block on the in-flight result
// rather than recomputing. Entries older than the TTL are recomputed
// on next access.
type resultCache struct {
	ttl   time.Duration
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	ready     chan struct{}
	value     *PollutantResult
	err       error
	expiresAt time.Time
}

func newResultCache(ttl time.Duration, clock clockwork.Clock) *resultCache {
	return &resultCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]*cacheEntry),
	}
}

// getOrCompute returns the cached value for key, or runs compute once
// and shares the result with any concurrent callers. Errors are not
// cached; the next caller retries.
func (c *resultCache) getOrCompute(key string, compute func() (*PollutantResult, error)) (*PollutantResult, bool, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		select {
		case <-entry.ready:
			if entry.err == nil && c.clock.Now().Before(entry.expiresAt) {
				c.mu.Unlock()
				return entry.value, true, nil
			}
			// Expired or failed: fall through and recompute.
		default:
			// Computation in flight: wait for it.
			c.mu.Unlock()
			<-entry.ready
			return entry.value, entry.err == nil, entry.err
		}
	}

	entry = &cacheEntry{ready: make(chan struct{})}
	c.entries[key] = entry
	c.mu.Unlock()

	value, err := compute()
	entry.value = value
	entry.err = err
	entry.expiresAt = c.clock.Now().Add(c.ttl)
	close(entry.ready)

	if err != nil {
		c.mu.Lock()
		if c.entries[key] == entry {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}

	return value, false, err
}

// purgeExpired drops entries past their TTL and returns how many were
// removed. In-flight entries are left alone.
func (c *resultCache) purgeExpired() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		select {
		case <-entry.ready:
			if !now.Before(entry.expiresAt) {
				delete(c.entries, key)
				removed++
			}
		default:
		}
	}
	return removed
}

// len returns the number of cached entries.
func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
