// Package respcache caches completed answers per session and prompt.
package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// entry holds one cached answer.
type entry struct {
	response string
	cachedAt time.Time
}

// Cache is an in-memory answer cache keyed by session and prompt hash.
// Expired entries are rejected on lookup and swept opportunistically on store,
// so no background timer is needed.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	ttl        time.Duration
	lastSweep  time.Time
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a cache with the given entry lifetime.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(ttl time.Duration, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		entries:    make(map[string]entry),
		ttl:        ttl,
		lastSweep:  time.Now(),
		cacheTotal: cacheTotal,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the time source. Test seam.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	c.lastSweep = now()
	return c
}

// Key derives the cache key for one session and prompt. The session ID stays a
// plain prefix so ClearSession can drop a session's entries without an index.
func Key(sessionID, prompt string) string {
	h := sha256.Sum256([]byte(prompt))
	return sessionID + ":" + hex.EncodeToString(h[:])
}

// Lookup returns the cached answer for the session and prompt, if present and
// not expired.
func (c *Cache) Lookup(sessionID, prompt string) (string, bool) {
	key := Key(sessionID, prompt)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && c.now().Sub(e.cachedAt) >= c.ttl {
		delete(c.entries, key)
		ok = false
	}
	if !ok {
		c.incCache("miss")
		return "", false
	}

	c.incCache("hit")
	return e.response, true
}

// Store caches an answer for the session and prompt, refreshing the entry's
// lifetime if one already exists.
func (c *Cache) Store(sessionID, prompt, response string) {
	key := Key(sessionID, prompt)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.maybeSweepLocked()
	c.entries[key] = entry{response: response, cachedAt: c.now()}
}

// ClearSession drops every cached answer belonging to the session.
func (c *Cache) ClearSession(sessionID string) {
	prefix := sessionID + ":"

	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of entries, including not-yet-swept expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

// maybeSweepLocked drops expired entries at most once per TTL interval.
func (c *Cache) maybeSweepLocked() {
	now := c.now()
	if now.Sub(c.lastSweep) < c.ttl {
		return
	}
	c.lastSweep = now

	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.cachedAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("swept expired cache entries", zap.Int("removed", removed))
	}
}
