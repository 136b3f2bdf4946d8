package validator

import (
	"sync"
	"time"

	"tessera.social/internal/auth"
	"tessera.social/internal/obs"
)

const (
	DefaultCacheTTL        = 5 * time.Minute
	DefaultCacheMaxEntries = 1000
)

// Cache remembers successful validations per token for a fixed TTL, or until
// the token itself expires if that comes first. It is a per-process
// structure; nothing is shared between services.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type cacheEntry struct {
	identity   auth.Identity
	insertedAt time.Time
	tokenExp   time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheClock overrides the time source.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache builds a cache. Non-positive arguments select the defaults.
func NewCache(ttl time.Duration, maxEntries int, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	c := &Cache{
		entries:    make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL reports the staleness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the cached identity for token. Entries older than the TTL, or
// whose token has expired, are removed and reported as absent.
func (c *Cache) Get(token string) (auth.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[token]
	if !ok {
		obs.RecordCacheLookup("miss")
		return auth.Identity{}, false
	}
	if c.expired(e, c.now()) {
		delete(c.entries, token)
		obs.RecordCacheLookup("expired")
		obs.SetCacheEntries(len(c.entries))
		return auth.Identity{}, false
	}
	obs.RecordCacheLookup("hit")
	return e.identity, true
}

// Set stores identity for token. tokenExp, when non-zero, cuts the entry's
// life short at the token's own expiry. Once the cache grows past its bound,
// expired entries are swept; if that is not enough the oldest entries go.
func (c *Cache) Set(token string, identity auth.Identity, tokenExp time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.entries[token] = cacheEntry{identity: identity, insertedAt: now, tokenExp: tokenExp}
	if len(c.entries) > c.maxEntries {
		c.sweepLocked(now)
	}
	for len(c.entries) > c.maxEntries {
		c.evictOldestLocked()
	}
	obs.SetCacheEntries(len(c.entries))
}

// Delete drops token.
func (c *Cache) Delete(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, token)
	obs.SetCacheEntries(len(c.entries))
}

// Len reports the number of stored entries, including not yet swept expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.sweepLocked(c.now())
	obs.SetCacheEntries(len(c.entries))
	return n
}

func (c *Cache) expired(e cacheEntry, now time.Time) bool {
	if !e.tokenExp.IsZero() && !now.Before(e.tokenExp) {
		return true
	}
	return now.Sub(e.insertedAt) > c.ttl
}

func (c *Cache) sweepLocked(now time.Time) int {
	n := 0
	for token, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, token)
			n++
		}
	}
	return n
}

func (c *Cache) evictOldestLocked() {
	var (
		oldestToken string
		oldestAt    time.Time
		found       bool
	)
	for token, e := range c.entries {
		if !found || e.insertedAt.Before(oldestAt) {
			oldestToken, oldestAt, found = token, e.insertedAt, true
		}
	}
	if found {
		delete(c.entries, oldestToken)
	}
}
