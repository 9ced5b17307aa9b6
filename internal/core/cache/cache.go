// Package cache holds the request cache that deduplicates backend calls.
//
// Each key maps to a shared Handle plus the instant it was registered. A
// computation is registered under its key before it starts, so callers that
// arrive while it is in flight share the same Handle instead of issuing a
// second backend call. Expired entries are dropped lazily on lookup.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aevon-lab/tally/internal/core/partition"
)

// DefaultTTL applies when Options.TTL is not set.
const DefaultTTL = 5 * time.Minute

// ComputeFunc produces the value for a key. A non-nil error is kept on the
// Handle next to whatever value was returned (usually a zero/default value).
type ComputeFunc[V any] func(ctx context.Context) (V, error)

// Options configures a Cache.
type Options struct {
	// TTL is how long an entry is served after it was registered.
	TTL time.Duration
	// FailureTTL caps the lifetime of entries whose computation returned an
	// error. Zero means the same as TTL; values above TTL are clamped to TTL.
	FailureTTL time.Duration
	// Stripes is the number of independently locked shards (default partition.Count).
	Stripes int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries       int   `json:"entries"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Expired       int64 `json:"expired"`
	Invalidations int64 `json:"invalidations"`
}

type entry[V any] struct {
	handle    *Handle[V]
	createdAt time.Time
	ttl       time.Duration
}

type shard[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
}

// Cache maps keys to shared, possibly still pending, results.
// It is safe for concurrent use.
type Cache[V any] struct {
	ttl        time.Duration
	failureTTL time.Duration
	now        func() time.Time
	shards     []*shard[V]

	hits          atomic.Int64
	misses        atomic.Int64
	expired       atomic.Int64
	invalidations atomic.Int64
}

// New creates an empty cache.
func New[V any](opts Options) *Cache[V] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.FailureTTL <= 0 || opts.FailureTTL > opts.TTL {
		opts.FailureTTL = opts.TTL
	}
	if opts.Stripes <= 0 {
		opts.Stripes = partition.Count
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Cache[V]{
		ttl:        opts.TTL,
		failureTTL: opts.FailureTTL,
		now:        opts.Now,
		shards:     make([]*shard[V], opts.Stripes),
	}
	for i := range c.shards {
		c.shards[i] = &shard[V]{entries: make(map[string]*entry[V])}
	}
	return c
}

// TTL returns the default entry lifetime.
func (c *Cache[V]) TTL() time.Duration { return c.ttl }

func (c *Cache[V]) shardFor(key string) *shard[V] {
	return c.shards[partition.ForN(key, len(c.shards))]
}

// lookup returns the live entry for key, deleting it if stale.
// The shard lock must be held.
func (c *Cache[V]) lookup(s *shard[V], key string, now time.Time) *entry[V] {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if now.Sub(e.createdAt) > e.ttl {
		delete(s.entries, key)
		c.expired.Add(1)
		return nil
	}
	return e
}

// Get returns the handle stored under key, or nil when there is none or the
// entry outlived its TTL (in which case it is removed).
func (c *Cache[V]) Get(key string) *Handle[V] {
	s := c.shardFor(key)
	s.mu.Lock()
	e := c.lookup(s, key, c.now())
	s.mu.Unlock()

	if e == nil {
		c.misses.Add(1)
		return nil
	}
	c.hits.Add(1)
	return e.handle
}

// Set stores handle under key with the default TTL, replacing any prior entry.
func (c *Cache[V]) Set(key string, handle *Handle[V]) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.entries[key] = &entry[V]{handle: handle, createdAt: c.now(), ttl: c.ttl}
	s.mu.Unlock()
}

// GetOrCompute returns the live handle for key or registers a new one and
// starts fn exactly once. See GetOrComputeTTL.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, fn ComputeFunc[V]) *Handle[V] {
	return c.GetOrComputeTTL(ctx, key, c.ttl, fn)
}

// GetOrComputeTTL is GetOrCompute with a per-entry TTL.
//
// The miss check and the registration of the pending handle happen under the
// key's shard lock, so at most one computation per key is outstanding for the
// entry's lifetime. fn runs detached from ctx cancellation: it always runs to
// completion and resolves the handle, even if every caller stops waiting.
func (c *Cache[V]) GetOrComputeTTL(ctx context.Context, key string, ttl time.Duration, fn ComputeFunc[V]) *Handle[V] {
	if ttl <= 0 {
		ttl = c.ttl
	}

	s := c.shardFor(key)
	s.mu.Lock()
	if e := c.lookup(s, key, c.now()); e != nil {
		s.mu.Unlock()
		c.hits.Add(1)
		slog.Debug("[Cache] Hit", "key", key)
		return e.handle
	}

	h := newHandle[V]()
	s.entries[key] = &entry[V]{handle: h, createdAt: c.now(), ttl: ttl}
	s.mu.Unlock()
	c.misses.Add(1)

	go c.run(context.WithoutCancel(ctx), s, key, h, fn)
	return h
}

func (c *Cache[V]) run(ctx context.Context, s *shard[V], key string, h *Handle[V], fn ComputeFunc[V]) {
	var (
		value V
		err   error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache compute for %q panicked: %v", key, r)
			slog.Error("[Cache] Compute panicked", "key", key, "panic", r)
		}
		if err != nil {
			c.shortenFailed(s, key, h)
		}
		h.resolve(value, err)
	}()

	value, err = fn(ctx)
}

// shortenFailed applies FailureTTL to the entry, unless it was replaced or
// invalidated in the meantime.
func (c *Cache[V]) shortenFailed(s *shard[V], key string, h *Handle[V]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.handle == h && e.ttl > c.failureTTL {
		e.ttl = c.failureTTL
	}
}

// Invalidate removes the entry for key. It reports whether one existed.
// Holders of the removed handle still observe its result.
func (c *Cache[V]) Invalidate(key string) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()
	if ok {
		c.invalidations.Add(1)
	}
	return ok
}

// InvalidateByPrefix removes every entry whose key starts with prefix and
// returns how many were removed.
func (c *Cache[V]) InvalidateByPrefix(prefix string) int {
	return c.InvalidateFunc(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
}

// InvalidateFunc removes every entry whose key satisfies match.
func (c *Cache[V]) InvalidateFunc(match func(key string) bool) int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key := range s.entries {
			if match(key) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	c.invalidations.Add(int64(removed))
	return removed
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		removed += len(s.entries)
		s.entries = make(map[string]*entry[V])
		s.mu.Unlock()
	}
	c.invalidations.Add(int64(removed))
}

// SweepExpired removes every entry that outlived its TTL and returns how
// many were removed. Expired keys that are never looked up again are only
// reclaimed here.
func (c *Cache[V]) SweepExpired() int {
	now := c.now()
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if now.Sub(e.createdAt) > e.ttl {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		c.expired.Add(int64(removed))
		slog.Debug("[Cache] Swept expired entries", "removed", removed)
	}
	return removed
}

// Len returns the number of stored entries, including ones that expired but
// were not swept or looked up since.
func (c *Cache[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Stats returns the current counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Entries:       c.Len(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Expired:       c.expired.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
