// Package config provides the unified configuration system for the dataset
// core. It defines a single BaseConfig structure shared by the cache manager,
// the table store and the streaming iterator, ensuring consistent
// configuration across the library.
//
// The configuration is organized into logical sections:
//   - Cache: cache directory location and write policy
//   - Streaming: prefetch depth, fetch timeouts, decode buffers
//   - Observability: metrics and logging
//
// Example usage:
//
//	cfg := config.NewBaseConfig("squad")
//	cfg.Cache.Dir = "/data/cache"
//	cfg.Streaming.PrefetchDepth = 4
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/clefourrier/datasets/pkg/errors"
)

// BaseConfig is the single unified configuration structure for the dataset
// core. The cache directory is an explicit, caller-owned handle: the library
// never creates implicit process-wide state outside of it.
type BaseConfig struct {
	// Name identifies the dataset this configuration serves
	Name string `yaml:"name" json:"name"`
	// Version indicates the configuration version
	Version string `yaml:"version" json:"version"`

	// Cache settings control the on-disk transform cache
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Streaming settings control the shard iterator
	Streaming StreamingConfig `yaml:"streaming" json:"streaming"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// CacheConfig contains transform-cache settings. Entries are never evicted
// automatically; growth is bounded only by explicit Clear calls from the
// owner of the directory.
type CacheConfig struct {
	// Dir is the shared cache directory. All processes that share it
	// coordinate through per-fingerprint file locks.
	Dir string `yaml:"dir" json:"dir"`
	// UseLocks enables advisory file locking for cross-process writers.
	// When disabled, racing writers rely on atomic rename alone and may
	// repeat identical computations.
	UseLocks bool `yaml:"use_locks" json:"use_locks"`
	// WriteTimeout bounds how long a writer waits for the per-fingerprint lock
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	// RandomFingerprintFallback degrades transforms without a canonical
	// cache identity (unnamed functions, uncanonicalizable arguments) to
	// a session-unique fingerprint instead of failing. This defeats
	// caching for the affected view and is off by default.
	RandomFingerprintFallback bool `yaml:"random_fingerprint_fallback" json:"random_fingerprint_fallback"`
}

// StreamingConfig contains streaming-iterator settings.
type StreamingConfig struct {
	// PrefetchDepth is the fixed in-flight shard fetch window (0 disables prefetch)
	PrefetchDepth int `yaml:"prefetch_depth" json:"prefetch_depth"`
	// FetchTimeout bounds a single shard fetch
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	// DecodeBufferSize sets the record decode buffer size in bytes
	DecodeBufferSize int `yaml:"decode_buffer_size" json:"decode_buffer_size"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// EnableMetrics activates prometheus metrics collection
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// EnableLogging controls logging output
	EnableLogging bool `yaml:"enable_logging" json:"enable_logging"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewBaseConfig creates a new BaseConfig with sensible defaults.
// The default cache directory follows the usual per-user layout under the
// OS cache dir; callers running parallel workers normally point Cache.Dir
// at a shared location instead.
func NewBaseConfig(name string) *BaseConfig {
	return &BaseConfig{
		Name:    name,
		Version: "1.0.0",
		Cache: CacheConfig{
			Dir:          defaultCacheDir(),
			UseLocks:     true,
			WriteTimeout: 5 * time.Minute,
		},
		Streaming: StreamingConfig{
			PrefetchDepth:    2,
			FetchTimeout:     30 * time.Second,
			DecodeBufferSize: 1 << 20,
		},
		Observability: ObservabilityConfig{
			EnableMetrics: true,
			EnableLogging: true,
			LogLevel:      "info",
		},
	}
}

// defaultCacheDir returns the per-user default cache directory.
func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "datasets")
}

// Validate checks the configuration for consistency.
func (bc *BaseConfig) Validate() error {
	if bc.Cache.Dir == "" {
		return errors.New(errors.ErrorTypeConfig, "cache dir must not be empty")
	}
	if bc.Cache.WriteTimeout < 0 {
		return errors.New(errors.ErrorTypeConfig, "cache write timeout must not be negative")
	}
	if bc.Streaming.PrefetchDepth < 0 {
		return errors.New(errors.ErrorTypeConfig, "prefetch depth must not be negative")
	}
	if bc.Streaming.DecodeBufferSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "decode buffer size must be positive")
	}
	return nil
}
