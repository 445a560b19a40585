// Package keycache avoids redundant password-key derivations by remembering
// derived keys for a short, fixed window. Cache keys are a non-reversible
// digest of password, salt and iteration count, so raw passwords never
// appear in the map.
package keycache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/veilworks/cryptocore/engine"
	"github.com/veilworks/cryptocore/metrics"
)

const (
	// DefaultTTL bounds how long a derived key stays cached. The TTL is fixed
	// at insertion; reads do not extend it.
	DefaultTTL = 5 * time.Minute

	// SweepInterval is how often the background sweep evicts expired entries.
	SweepInterval = time.Minute

	// cacheKeyInfo domain-separates the cache-key digest from other uses of
	// SHA-256 over password material.
	cacheKeyInfo = "cryptocore keycache v1"
)

type entry struct {
	key       engine.SharedKey
	createdAt time.Time
	expiresAt time.Time
	hits      int
}

// Stats is an informational snapshot. Values carry no consistency guarantee
// with respect to concurrent sweeps.
type Stats struct {
	Entries int
	Hits    int
	Expired int
}

// Cache maps (password, salt, iterations) fingerprints to derived keys with
// TTL expiry.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	hits    int
	expired int

	sweepOnce sync.Once
	stopSweep chan struct{}
}

// New creates a cache with the given TTL (DefaultTTL when ttl <= 0) and
// starts the periodic sweep.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		entries:   make(map[string]*entry),
		ttl:       ttl,
		stopSweep: make(chan struct{}),
	}
	go c.sweepLoop(SweepInterval)
	return c
}

// Get returns the cached key for (password, salt, iterations), or ok=false
// when absent. An entry past its expiry counts as absent and is evicted on
// the spot.
func (c *Cache) Get(password string, salt []byte, iterations int) (engine.SharedKey, bool) {
	id := cacheKey(password, salt, iterations)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, id)
		c.expired++
		metrics.CacheMisses.Inc()
		metrics.CacheEvictions.Inc()
		return nil, false
	}

	e.hits++
	c.hits++
	metrics.CacheHits.Inc()

	// Callers own the returned slice. The cache keeps its own copy so that
	// eviction zeroing cannot reach keys already handed out, and vice versa.
	out := make(engine.SharedKey, len(e.key))
	copy(out, e.key)
	return out, true
}

// Set stores a derived key with an absolute expiry computed now. Re-setting
// an existing (password, salt, iterations) replaces the entry and restarts
// its TTL.
func (c *Cache) Set(password string, salt []byte, iterations int, key engine.SharedKey) {
	now := time.Now()
	stored := make(engine.SharedKey, len(key))
	copy(stored, key)
	e := &entry{
		key:       stored,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	c.entries[cacheKey(password, salt, iterations)] = e
	c.mu.Unlock()
}

// Clear drops every entry. Must be called on logout or vault lock so derived
// keys do not outlive their session.
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	for id, e := range c.entries {
		e.key.Zero()
		delete(c.entries, id)
	}
	c.mu.Unlock()

	if n > 0 {
		log.Debug().Int("entries", n).Msg("Key cache cleared")
	}
}

// Stats returns an informational snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Expired: c.expired,
	}
}

// Close stops the background sweep. The cache remains usable; only the
// proactive eviction stops.
func (c *Cache) Close() {
	c.sweepOnce.Do(func() { close(c.stopSweep) })
}

// sweep removes all expired entries, bounding memory growth independent of
// read traffic. Returns the number of entries evicted.
func (c *Cache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for id, e := range c.entries {
		if now.After(e.expiresAt) {
			e.key.Zero()
			delete(c.entries, id)
			c.expired++
			evicted++
			metrics.CacheEvictions.Inc()
		}
	}
	return evicted
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopSweep:
			return
		case now := <-ticker.C:
			if n := c.sweep(now); n > 0 {
				log.Debug().Int("evicted", n).Msg("Key cache sweep")
			}
		}
	}
}

// cacheKey derives a non-reversible lookup key from password, salt and
// iteration count. Folding in the count keeps keys derived under different
// costs from colliding.
func cacheKey(password string, salt []byte, iterations int) string {
	h := sha256.New()
	h.Write([]byte(cacheKeyInfo))
	h.Write([]byte{0})
	h.Write([]byte(password))
	h.Write([]byte{0})
	h.Write(salt)
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(iterations)))
	return hex.EncodeToString(h.Sum(nil))
}
