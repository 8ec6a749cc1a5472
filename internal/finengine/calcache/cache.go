// Package calcache implements the bounded, TTL-aware LRU result cache
// in front of the calculation engine. Bounded/TTL ordering mechanics
// are delegated to hashicorp/golang-lru/v2/expirable; this package
// layers byte accounting, hit-rate telemetry, and hot-key reporting on
// top.
package calcache

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/calcengine/internal/finengine/registry"
	"github.com/R3E-Network/calcengine/internal/finengine/support"
)

// fallbackByteSize is used when a value's canonical serialisation fails.
const fallbackByteSize = 1024

// Config controls cache capacity and housekeeping.
type Config struct {
	MaxEntries      int
	MaxBytes        int64
	TTL             time.Duration
	CleanupInterval time.Duration
	AutoCleanup     bool
	Logger          *logrus.Logger
}

// Stats summarises cache telemetry.
type Stats struct {
	Requests         int64
	Hits             int64
	Misses           int64
	HitRate          float64
	ByteSize         int64
	ItemCount        int
	OldestInsertedAt time.Time
	NewestInsertedAt time.Time
	AvgAccessLatency time.Duration
}

// entry is the value stored under each cache key. It is always stored and
// retrieved by pointer so Get can update access bookkeeping in place
// without re-inserting into the underlying LRU (which would perturb
// recency order on every touch).
type entry struct {
	value       registry.Result
	bytes       int64
	insertedAt  time.Time
	accessCount int64
}

// Cache is the bounded, TTL-aware result cache.
type Cache struct {
	lru      *expirable.LRU[string, *entry]
	maxBytes int64

	totalBytes    atomic.Int64
	requests      atomic.Int64
	hits          atomic.Int64
	misses        atomic.Int64
	accessNanos   atomic.Int64
	accessSamples atomic.Int64

	oldest atomic.Pointer[time.Time]
	newest atomic.Pointer[time.Time]

	cron *cron.Cron
	log  *logrus.Logger
}

// New creates a Cache with the given configuration, applying the
// documented defaults for zero-valued fields.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 * 1024 * 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	c := &Cache{maxBytes: cfg.MaxBytes, log: log}
	c.lru = expirable.NewLRU[string, *entry](cfg.MaxEntries, c.onEvict, cfg.TTL)

	if cfg.AutoCleanup {
		c.cron = cron.New()
		spec := "@every " + cfg.CleanupInterval.String()
		if _, err := c.cron.AddFunc(spec, func() {
			removed := c.Cleanup()
			if removed > 0 {
				c.log.WithField("removed", removed).Debug("cache cleanup swept expired entries")
			}
		}); err != nil {
			c.log.WithError(err).Warn("failed to schedule cache cleanup")
		} else {
			c.cron.Start()
		}
	}

	return c
}

// Close stops the background cleanup scheduler, if any.
func (c *Cache) Close() {
	if c.cron != nil {
		c.cron.Stop()
	}
}

func (c *Cache) onEvict(_ string, e *entry) {
	c.totalBytes.Add(-e.bytes)
}

// Get looks up key, treating expired entries as misses.
func (c *Cache) Get(key string) (registry.Result, bool) {
	start := time.Now()
	c.requests.Add(1)

	e, ok := c.lru.Get(key)
	if !ok {
		// The underlying LRU reports expiry without removing the entry,
		// so delete it here to release its byte accounting immediately.
		c.lru.Remove(key)
		c.misses.Add(1)
		c.recordAccessLatency(start)
		return nil, false
	}

	atomic.AddInt64(&e.accessCount, 1)
	c.hits.Add(1)
	c.recordAccessLatency(start)
	return e.value, true
}

func (c *Cache) recordAccessLatency(start time.Time) {
	c.accessNanos.Add(int64(time.Since(start)))
	c.accessSamples.Add(1)
}

// Put inserts value under key, evicting least-recently-used entries until
// both the count and memory caps are satisfied. It returns false (and
// does not insert) when a single value exceeds the memory cap.
func (c *Cache) Put(key string, value registry.Result) bool {
	size := sizeOf(value)
	if size > c.maxBytes {
		c.log.WithField("key", key).Warn("cache put refused: value exceeds memory cap")
		return false
	}

	now := time.Now()
	e := &entry{value: value, bytes: size, insertedAt: now}
	// The underlying LRU updates in place on overwrite without invoking the
	// evict callback, so release the old entry's byte accounting first.
	c.lru.Remove(key)
	c.lru.Add(key, e)
	c.totalBytes.Add(size)
	c.touchInsertionBounds(now)

	for c.totalBytes.Load() > c.maxBytes && c.lru.Len() > 0 {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}

	return true
}

// PutErr is a convenience for call sites where CacheFullError should be
// surfaced rather than a bare boolean.
func (c *Cache) PutErr(key string, value registry.Result) error {
	if !c.Put(key, value) {
		return &support.CacheFullError{Key: key}
	}
	return nil
}

func (c *Cache) touchInsertionBounds(at time.Time) {
	if c.oldest.Load() == nil {
		t := at
		c.oldest.Store(&t)
	}
	t := at
	c.newest.Store(&t)
}

// Delete removes key from the cache.
func (c *Cache) Delete(key string) {
	c.lru.Remove(key)
}

// Has reports whether key is present and not expired, without affecting
// recency order.
func (c *Cache) Has(key string) bool {
	_, ok := c.lru.Peek(key)
	return ok
}

// Clear empties the cache and resets byte accounting.
func (c *Cache) Clear() {
	c.lru.Purge()
	c.totalBytes.Store(0)
}

// Cleanup sweeps all entries, removing expired ones, and returns the
// number removed. It complements the underlying library's own lazy and
// background expiry with an explicit, test-observable sweep.
func (c *Cache) Cleanup() int {
	removed := 0
	for _, key := range c.lru.Keys() {
		if _, ok := c.lru.Peek(key); !ok {
			if c.lru.Remove(key) {
				removed++
			}
		}
	}
	return removed
}

// Warmup best-effort precomputes values for keys not already cached,
// swallowing per-key provider errors.
func (c *Cache) Warmup(ctx context.Context, keys []string, provider func(ctx context.Context, key string) (registry.Result, error)) int {
	succeeded := 0
	for _, key := range keys {
		if c.Has(key) {
			continue
		}
		value, err := provider(ctx, key)
		if err != nil {
			c.log.WithError(err).WithField("key", key).Debug("cache warmup: provider failed, skipping key")
			continue
		}
		if c.Put(key, value) {
			succeeded++
		}
	}
	return succeeded
}

// HotKeys returns up to limit keys ordered by access count, descending.
func (c *Cache) HotKeys(limit int) []string {
	type counted struct {
		key   string
		count int64
	}
	keys := c.lru.Keys()
	counts := make([]counted, 0, len(keys))
	for _, k := range keys {
		if e, ok := c.lru.Peek(k); ok {
			counts = append(counts, counted{key: k, count: atomic.LoadInt64(&e.accessCount)})
		}
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].count > counts[j].count })
	if limit > 0 && limit < len(counts) {
		counts = counts[:limit]
	}
	out := make([]string, len(counts))
	for i, c := range counts {
		out[i] = c.key
	}
	return out
}

// Stats reports current telemetry.
func (c *Cache) Stats() Stats {
	requests := c.requests.Load()
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if requests > 0 {
		hitRate = float64(hits) / float64(requests)
	}

	var avgLatency time.Duration
	if samples := c.accessSamples.Load(); samples > 0 {
		avgLatency = time.Duration(c.accessNanos.Load() / samples)
	}

	s := Stats{
		Requests:         requests,
		Hits:             hits,
		Misses:           misses,
		HitRate:          hitRate,
		ByteSize:         c.totalBytes.Load(),
		ItemCount:        c.lru.Len(),
		AvgAccessLatency: avgLatency,
	}
	if t := c.oldest.Load(); t != nil {
		s.OldestInsertedAt = *t
	}
	if t := c.newest.Load(); t != nil {
		s.NewestInsertedAt = *t
	}
	return s
}

func sizeOf(value registry.Result) int64 {
	if value == nil {
		return fallbackByteSize
	}
	data, err := value.CanonicalJSON()
	if err != nil {
		return fallbackByteSize
	}
	return int64(len(data))
}
