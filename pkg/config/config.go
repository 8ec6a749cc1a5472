// Package config loads calculation-engine configuration from a YAML file
// layered under environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can use the same duration
// strings ("30m", "10s") that environment overrides accept.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Decode implements envdecode.Decoder.
func (d *Duration) Decode(repl string) error {
	parsed, err := time.ParseDuration(repl)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", repl, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// CacheConfig controls the LRU result cache.
type CacheConfig struct {
	MaxEntries      int      `json:"max_entries" yaml:"max_entries" env:"CACHE_MAX_ENTRIES"`
	MaxBytes        int64    `json:"max_bytes" yaml:"max_bytes" env:"CACHE_MAX_BYTES"`
	TTL             Duration `json:"ttl" yaml:"ttl" env:"CACHE_TTL"`
	CleanupInterval Duration `json:"cleanup_interval" yaml:"cleanup_interval" env:"CACHE_CLEANUP_INTERVAL"`
	AutoCleanup     bool     `json:"auto_cleanup" yaml:"auto_cleanup" env:"CACHE_AUTO_CLEANUP"`
}

// PoolConfig controls the worker pool manager.
type PoolConfig struct {
	MaxWorkers      int      `json:"max_workers" yaml:"max_workers" env:"POOL_MAX_WORKERS"`
	InitialWorkers  int      `json:"initial_workers" yaml:"initial_workers" env:"POOL_INITIAL_WORKERS"`
	RequestTimeout  Duration `json:"request_timeout" yaml:"request_timeout" env:"POOL_REQUEST_TIMEOUT"`
	IdleTimeout     Duration `json:"idle_timeout" yaml:"idle_timeout" env:"POOL_IDLE_TIMEOUT"`
	ErrorThreshold  int      `json:"error_threshold" yaml:"error_threshold" env:"POOL_ERROR_THRESHOLD"`
	CleanupInterval Duration `json:"cleanup_interval" yaml:"cleanup_interval" env:"POOL_CLEANUP_INTERVAL"`
}

// BehaviorConfig controls the behaviour analyzer.
type BehaviorConfig struct {
	AnalysisWindow Duration `json:"analysis_window" yaml:"analysis_window" env:"BEHAVIOR_ANALYSIS_WINDOW"`
	SessionTimeout Duration `json:"session_timeout" yaml:"session_timeout" env:"BEHAVIOR_SESSION_TIMEOUT"`
	RingCapacity   int      `json:"ring_capacity" yaml:"ring_capacity" env:"BEHAVIOR_RING_CAPACITY"`
	TickInterval   Duration `json:"tick_interval" yaml:"tick_interval" env:"BEHAVIOR_TICK_INTERVAL"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" yaml:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Config is the top-level engine configuration structure.
type Config struct {
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Pool     PoolConfig     `json:"pool" yaml:"pool"`
	Behavior BehaviorConfig `json:"behavior" yaml:"behavior"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// New returns a configuration populated with the documented defaults.
func New() *Config {
	return &Config{
		Cache: CacheConfig{
			MaxEntries:      100,
			MaxBytes:        10 * 1024 * 1024,
			TTL:             Duration(30 * time.Minute),
			CleanupInterval: Duration(5 * time.Minute),
			AutoCleanup:     true,
		},
		Pool: PoolConfig{
			MaxWorkers:      4,
			InitialWorkers:  2,
			RequestTimeout:  Duration(10 * time.Second),
			IdleTimeout:     Duration(5 * time.Minute),
			ErrorThreshold:  5,
			CleanupInterval: Duration(60 * time.Second),
		},
		Behavior: BehaviorConfig{
			AnalysisWindow: Duration(30 * time.Second),
			SessionTimeout: Duration(5 * time.Minute),
			RingCapacity:   1000,
			TickInterval:   Duration(5 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load loads configuration from an optional YAML file (CONFIG_FILE env var,
// defaulting to configs/config.yaml) and then applies environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when no tagged field is present in the environment;
		// treat that as "no overrides" so local runs work without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

// LoadFile reads configuration from a YAML file, ignoring CONFIG_FILE/env.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
