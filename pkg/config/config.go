// Package config provides the configuration for an in-memory cube build.
// A single CubingConfig structure carries every knob the builder, its
// stores and the CLI read, so a build can be reproduced from one YAML file.
//
// The configuration is organized into logical sections:
//   - Build: Worker count, memory reserve, poll interval, sanity checking
//   - Storage: Grid table backend, spill directory, buffers, block compression
//   - Reliability: Retry attempts and per-cuboid timeouts
//   - Observability: Metrics, tracing, logging
//
// Example usage:
//
//	cfg := config.NewCubingConfig("sales")
//	cfg.Build.Workers = 8
//	cfg.Storage.Backend = config.BackendHybrid
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"os"
	"time"
)

// Grid table store backends.
const (
	BackendMemory = "memory"
	BackendDisk   = "disk"
	BackendHybrid = "hybrid"
)

// CubingConfig is the configuration of one cube build.
type CubingConfig struct {
	// Name identifies the cube being built
	Name string `yaml:"name" json:"name"`

	// Build settings control parallelism and the memory budget
	Build BuildConfig `yaml:"build" json:"build"`

	// Storage settings select where cuboid grid tables live
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Reliability settings for retrying resource failures
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// BuildConfig contains the builder's parallelism and memory settings.
type BuildConfig struct {
	// Workers is the number of goroutines computing cuboids
	Workers int `yaml:"workers" json:"workers"`
	// ReserveMemoryMB is the memory kept back from the budget
	ReserveMemoryMB int `yaml:"reserve_memory_mb" json:"reserve_memory_mb"`
	// TaskPollInterval bounds each wait on the task queue
	TaskPollInterval time.Duration `yaml:"task_poll_interval" json:"task_poll_interval"`
	// GCPause is how long to wait after a forced GC before reading free memory
	GCPause time.Duration `yaml:"gc_pause" json:"gc_pause"`
	// MinBaseAggrCacheMB floors the base cuboid's estimated cache size
	MinBaseAggrCacheMB int `yaml:"min_base_aggr_cache_mb" json:"min_base_aggr_cache_mb"`
	// SanityCheck compares per-metric totals of every cuboid to the base
	SanityCheck bool `yaml:"sanity_check" json:"sanity_check"`
	// EagerFlush writes a cuboid out as soon as all its children are built
	EagerFlush bool `yaml:"eager_flush" json:"eager_flush"`
	// MemoryBudgetMB overrides the computed budget when positive. It is
	// raised to the base cuboid cache when smaller.
	MemoryBudgetMB int `yaml:"memory_budget_mb" json:"memory_budget_mb"`
}

// StorageConfig contains grid table store settings.
type StorageConfig struct {
	// Backend selects memory, disk or hybrid stores
	Backend string `yaml:"backend" json:"backend"`
	// SpillDir is where disk stores create their files
	SpillDir string `yaml:"spill_dir" json:"spill_dir"`
	// BufferSize is the read and write buffer of disk stores in bytes
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
	// RowBlockSize is the number of rows per row block
	RowBlockSize int `yaml:"row_block_size" json:"row_block_size"`
	// Compression selects the row block codec (none, gzip, snappy, lz4, zstd, s2)
	Compression string `yaml:"compression" json:"compression"`
	// CompressionLevel sets compression ratio vs speed (1-9)
	CompressionLevel int `yaml:"compression_level" json:"compression_level"`
}

// ReliabilityConfig contains retry settings for per-cuboid failures.
type ReliabilityConfig struct {
	// RetryAttempts is the maximum attempts for a cuboid on out of memory or timeout
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// CuboidTimeout bounds a single cuboid computation (0 disables)
	CuboidTimeout time.Duration `yaml:"cuboid_timeout" json:"cuboid_timeout"`
	// TimeoutIncrement is added to the timeout on every timed out attempt
	TimeoutIncrement time.Duration `yaml:"timeout_increment" json:"timeout_increment"`
	// RetryDelay is the pause before a retried attempt
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// EnableMetrics activates metrics collection
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// MetricsAddr is the listen address of the /metrics endpoint
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// EnableTracing activates span export
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogEncoding selects json or console output
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
}

// NewCubingConfig creates a CubingConfig with the builder's defaults.
func NewCubingConfig(name string) *CubingConfig {
	return &CubingConfig{
		Name: name,
		Build: BuildConfig{
			Workers:            4,
			ReserveMemoryMB:    100,
			TaskPollInterval:   15 * time.Second,
			GCPause:            500 * time.Millisecond,
			MinBaseAggrCacheMB: 10,
			SanityCheck:        true,
			EagerFlush:         false,
		},
		Storage: StorageConfig{
			Backend:          BackendDisk,
			SpillDir:         os.TempDir(),
			BufferSize:       8192,
			RowBlockSize:     1024,
			Compression:      "none",
			CompressionLevel: 5,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:    3,
			CuboidTimeout:    0,
			TimeoutIncrement: 25 * time.Second,
			RetryDelay:       100 * time.Millisecond,
		},
		Observability: ObservabilityConfig{
			EnableMetrics: true,
			MetricsAddr:   "",
			EnableTracing: false,
			LogLevel:      "info",
			LogEncoding:   "json",
		},
	}
}

var compressionNames = map[string]bool{
	"": true, "none": true, "gzip": true, "snappy": true, "lz4": true, "zstd": true, "s2": true,
}

// Validate validates the configuration for correctness.
// It checks required fields and ensures values are within acceptable ranges.
func (c *CubingConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Build.Workers <= 0 {
		return fmt.Errorf("build.workers must be positive")
	}
	if c.Build.ReserveMemoryMB < 0 {
		return fmt.Errorf("build.reserve_memory_mb cannot be negative")
	}
	if c.Build.TaskPollInterval <= 0 {
		return fmt.Errorf("build.task_poll_interval must be positive")
	}
	if c.Build.MemoryBudgetMB < 0 {
		return fmt.Errorf("build.memory_budget_mb cannot be negative")
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendDisk, BackendHybrid:
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, disk, hybrid", c.Storage.Backend)
	}
	if c.Storage.BufferSize <= 0 {
		return fmt.Errorf("storage.buffer_size must be positive")
	}
	if c.Storage.RowBlockSize <= 0 {
		return fmt.Errorf("storage.row_block_size must be positive")
	}
	if !compressionNames[c.Storage.Compression] {
		return fmt.Errorf("storage.compression %q is not supported", c.Storage.Compression)
	}
	if c.Reliability.RetryAttempts < 1 {
		return fmt.Errorf("reliability.retry_attempts must be at least 1")
	}
	if c.Reliability.CuboidTimeout < 0 || c.Reliability.TimeoutIncrement < 0 {
		return fmt.Errorf("reliability timeouts cannot be negative")
	}
	return nil
}

// IsCompressionEnabled returns true if row blocks should be compressed
func (s *StorageConfig) IsCompressionEnabled() bool {
	return s.Compression != "" && s.Compression != "none"
}
