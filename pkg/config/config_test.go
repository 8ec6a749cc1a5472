package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewAppliesDocumentedDefaults(t *testing.T) {
	cfg := New()

	require.Equal(t, 100, cfg.Cache.MaxEntries)
	require.Equal(t, int64(10*1024*1024), cfg.Cache.MaxBytes)
	require.Equal(t, 30*time.Minute, cfg.Cache.TTL.Std())

	require.Equal(t, 4, cfg.Pool.MaxWorkers)
	require.Equal(t, 2, cfg.Pool.InitialWorkers)
	require.Equal(t, 10*time.Second, cfg.Pool.RequestTimeout.Std())
	require.Equal(t, 5*time.Minute, cfg.Pool.IdleTimeout.Std())
	require.Equal(t, 5, cfg.Pool.ErrorThreshold)

	require.Equal(t, 1000, cfg.Behavior.RingCapacity)
	require.Equal(t, 5*time.Minute, cfg.Behavior.SessionTimeout.Std())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  max_entries: 7
  ttl: 90s
pool:
  max_workers: 2
logging:
  level: debug
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	require.Equal(t, 7, cfg.Cache.MaxEntries)
	require.Equal(t, 90*time.Second, cfg.Cache.TTL.Std())
	require.Equal(t, 2, cfg.Pool.MaxWorkers)
	require.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	require.Equal(t, 10*time.Second, cfg.Pool.RequestTimeout.Std())
	require.True(t, cfg.Cache.AutoCleanup)
}

func TestLoadFileMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, 100, cfg.Cache.MaxEntries)
}

func TestDurationRejectsMalformedValue(t *testing.T) {
	var d Duration
	require.Error(t, d.Decode("not-a-duration"))
	require.NoError(t, d.Decode("150ms"))
	require.Equal(t, 150*time.Millisecond, d.Std())
}
