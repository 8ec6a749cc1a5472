package calcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/calcengine/internal/finengine/registry"
)

type stringResult string

func (s stringResult) CanonicalJSON() ([]byte, error) {
	return []byte(`"` + string(s) + `"`), nil
}

type failingResult struct{}

func (failingResult) CanonicalJSON() ([]byte, error) {
	return nil, errCanonical
}

var errCanonical = &canonicalErr{}

type canonicalErr struct{}

func (*canonicalErr) Error() string { return "cannot serialise" }

func newTestCache(t *testing.T, maxEntries int, maxBytes int64, ttl time.Duration) *Cache {
	t.Helper()
	c := New(Config{MaxEntries: maxEntries, MaxBytes: maxBytes, TTL: ttl})
	t.Cleanup(c.Close)
	return c
}

func TestCacheCapacityNeverExceeded(t *testing.T) {
	c := newTestCache(t, 3, 1<<20, time.Hour)

	for i := 0; i < 10; i++ {
		c.Put(string(rune('a'+i)), stringResult("v"))
		require.LessOrEqual(t, c.Stats().ItemCount, 3)
	}
}

func TestCacheLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := newTestCache(t, 3, 1<<20, time.Hour)

	c.Put("k1", stringResult("v1"))
	c.Put("k2", stringResult("v2"))
	c.Put("k3", stringResult("v3"))

	_, ok := c.Get("k1")
	require.True(t, ok)

	c.Put("k4", stringResult("v4"))

	_, ok = c.Get("k2")
	require.False(t, ok, "k2 should have been evicted as least-recently-used")

	for _, k := range []string{"k1", "k3", "k4"} {
		_, ok := c.Get(k)
		require.True(t, ok, "%s should still be present", k)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := newTestCache(t, 10, 1<<20, 50*time.Millisecond)
	c.Put("k", stringResult("v"))

	_, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, 1, c.Stats().ItemCount)

	time.Sleep(150 * time.Millisecond)

	_, ok = c.Get("k")
	require.False(t, ok, "expired entry must be a miss")
	require.Zero(t, c.Stats().ItemCount, "expired entry must be deleted on access")
	require.Zero(t, c.Stats().ByteSize, "expired entry's bytes must be released on access")
}

func TestCachePutRefusesOversizedValue(t *testing.T) {
	c := newTestCache(t, 10, 4, time.Hour)
	ok := c.Put("huge", stringResult("this value is much larger than four bytes"))
	require.False(t, ok)
	require.Equal(t, 0, c.Stats().ItemCount)
}

func TestCacheByteAccountingStaysUnderCap(t *testing.T) {
	c := newTestCache(t, 100, 64, time.Hour)
	for i := 0; i < 20; i++ {
		c.Put(string(rune('a'+i)), stringResult("0123456789"))
		require.LessOrEqual(t, c.Stats().ByteSize, int64(64))
	}
}

func TestCacheSerializationFailureFallsBackToFixedSize(t *testing.T) {
	c := newTestCache(t, 10, 1<<20, time.Hour)
	ok := c.Put("k", failingResult{})
	require.True(t, ok)
	require.Equal(t, int64(fallbackByteSize), c.Stats().ByteSize)
}

func TestCacheHitMissStats(t *testing.T) {
	c := newTestCache(t, 10, 1<<20, time.Hour)
	c.Put("k", stringResult("v"))

	c.Get("k")
	c.Get("missing")

	stats := c.Stats()
	require.Equal(t, int64(2), stats.Requests)
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
	require.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestCacheHotKeysOrderedByAccessCount(t *testing.T) {
	c := newTestCache(t, 10, 1<<20, time.Hour)
	c.Put("cold", stringResult("v"))
	c.Put("hot", stringResult("v"))

	c.Get("hot")
	c.Get("hot")
	c.Get("cold")

	hot := c.HotKeys(1)
	require.Equal(t, []string{"hot"}, hot)
}

func TestCacheWarmupSwallowsErrors(t *testing.T) {
	c := newTestCache(t, 10, 1<<20, time.Hour)

	succeeded := c.Warmup(context.Background(), []string{"good", "bad"}, func(_ context.Context, key string) (registry.Result, error) {
		if key == "bad" {
			return nil, errCanonical
		}
		return stringResult("v"), nil
	})
	require.Equal(t, 1, succeeded)
	require.True(t, c.Has("good"))
	require.False(t, c.Has("bad"))
}

func TestCachePutOverwriteKeepsByteAccountingExact(t *testing.T) {
	c := newTestCache(t, 10, 1<<20, time.Hour)

	c.Put("k", stringResult("a longer first value"))
	c.Put("k", stringResult("v2"))

	require.Equal(t, 1, c.Stats().ItemCount)
	require.Equal(t, int64(len(`"v2"`)), c.Stats().ByteSize)
}

func TestCacheCleanupRemovesExpiredEntries(t *testing.T) {
	c := newTestCache(t, 10, 1<<20, 20*time.Millisecond)
	c.Put("k1", stringResult("v1"))
	c.Put("k2", stringResult("v2"))

	time.Sleep(60 * time.Millisecond)
	c.Cleanup()

	require.Zero(t, c.Stats().ItemCount)
	require.Zero(t, c.Stats().ByteSize)
}

func TestCacheClearResetsByteAccounting(t *testing.T) {
	c := newTestCache(t, 10, 1<<20, time.Hour)
	c.Put("k", stringResult("v"))
	require.NotZero(t, c.Stats().ByteSize)

	c.Clear()
	require.Zero(t, c.Stats().ByteSize)
	require.Zero(t, c.Stats().ItemCount)
}
