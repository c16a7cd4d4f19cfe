// Package cache provides the shared cache primitives the federation core
// runs on: windowed atomic counters for rate limiting and an expiring
// verdict cache for blocklist lookups. Both are injected into their
// consumers at construction so tests can substitute deterministic clocks.
package cache

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Counters is a set of named counters that expire a fixed window after
// their first increment. Increment is the only operation; it is atomic.
type Counters interface {
	// Increment bumps the counter under key, creating it with the given
	// window on first hit. Returns the post-increment count and the time
	// remaining until the counter expires.
	Increment(key string, window time.Duration) (count int64, reset time.Duration)
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// sweepInterval bounds how long an expired counter can linger. Keys come
// from untrusted input, so expired entries must not accumulate.
const sweepInterval = time.Minute

type memoryCounters struct {
	mu        sync.Mutex
	clock     clock.Clock
	entries   map[string]*counterEntry
	nextSweep time.Time
}

// NewCounters returns an in-memory Counters implementation driven by the
// given clock.
func NewCounters(clk clock.Clock) Counters {
	return &memoryCounters{
		clock:     clk,
		entries:   make(map[string]*counterEntry),
		nextSweep: clk.Now().Add(sweepInterval),
	}
}

func (c *memoryCounters) Increment(key string, window time.Duration) (int64, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if now.After(c.nextSweep) {
		for k, e := range c.entries {
			if !e.expiresAt.After(now) {
				delete(c.entries, k)
			}
		}
		c.nextSweep = now.Add(sweepInterval)
	}

	e, ok := c.entries[key]
	if !ok || !e.expiresAt.After(now) {
		e = &counterEntry{expiresAt: now.Add(window)}
		c.entries[key] = e
	}
	e.count++
	return e.count, e.expiresAt.Sub(now)
}

// Flags is a small expiring boolean cache keyed by string. Used for
// blocklist verdicts; entries are invalidated explicitly on writes.
type Flags interface {
	Get(key string) (val, ok bool)
	Set(key string, val bool)
	Delete(key string)
}

type lruFlags struct {
	lru *expirable.LRU[string, bool]
}

// NewFlags returns a Flags cache holding at most size entries, each expiring
// ttl after being set.
func NewFlags(size int, ttl time.Duration) Flags {
	return &lruFlags{lru: expirable.NewLRU[string, bool](size, nil, ttl)}
}

func (f *lruFlags) Get(key string) (bool, bool) { return f.lru.Get(key) }
func (f *lruFlags) Set(key string, val bool)    { f.lru.Add(key, val) }
func (f *lruFlags) Delete(key string)           { f.lru.Remove(key) }
