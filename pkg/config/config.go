// Package config provides the unified configuration system for ipactable.
// It defines a single Config structure shared by the table engine, the
// service layer and the command line tool.
//
// The configuration is organized into logical sections:
//   - Table: prefetch threshold, flushing, seek heuristics, column defaults
//   - Storage: where table files live
//   - Reader: polling behavior while a file is still being written
//   - Export: compression and object-store publishing
//   - Observability: logging, metrics and tracing
//
// Example usage:
//
//	cfg := config.NewConfig()
//	cfg.Table.PrefetchSize = 5000
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"time"

	"github.com/ajitpratap0/ipactable/pkg/errors"
)

// MinPrefetchSize is the smallest prefetch threshold the writer accepts.
// Smaller configured values are raised to it.
const MinPrefetchSize = 100

// Config is the top-level ipactable configuration.
type Config struct {
	// Table controls how table files are written and read
	Table TableConfig `yaml:"table" json:"table"`

	// Storage locates table files
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Reader controls polling of in-progress files
	Reader ReaderConfig `yaml:"reader" json:"reader"`

	// Export configures compression and publishing of finished tables
	Export ExportConfig `yaml:"export" json:"export"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// TableConfig contains settings for the table writer and reader.
type TableConfig struct {
	// PrefetchSize is the number of rows written synchronously before the
	// remaining rows are handed off to a background worker
	PrefetchSize int `yaml:"prefetch_size" json:"prefetch_size"`
	// FlushEvery makes the background worker flush buffered rows to disk
	// after this many rows so readers see progress
	FlushEvery int `yaml:"flush_every" json:"flush_every"`
	// SeekThreshold is the row gap above which the sparse cell reader seeks
	// instead of skipping forward
	SeekThreshold int `yaml:"seek_threshold" json:"seek_threshold"`
	// NullString is written for nil cells unless a column declares its own
	NullString string `yaml:"null_string" json:"null_string"`
	// LineTerminator is "\n" or "\r\n"
	LineTerminator string `yaml:"line_terminator" json:"line_terminator"`
	// FollowPollInterval is how often a table source re-checks a file still being written
	FollowPollInterval time.Duration `yaml:"follow_poll_interval" json:"follow_poll_interval"`
}

// StorageConfig locates table files.
type StorageConfig struct {
	// WorkDir is the directory relative table paths resolve against
	WorkDir string `yaml:"work_dir" json:"work_dir"`
	// FileMode is the permission used for new table files
	FileMode uint32 `yaml:"file_mode" json:"file_mode"`
}

// ReaderConfig controls how callers wait on in-progress files.
type ReaderConfig struct {
	// PollInterval between status checks
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// WaitTimeout bounds WaitForStatus
	WaitTimeout time.Duration `yaml:"wait_timeout" json:"wait_timeout"`
	// Mmap memory-maps finalized files for range and cell reads
	Mmap bool `yaml:"mmap" json:"mmap"`
}

// ExportConfig configures compression and publishing.
type ExportConfig struct {
	// Algorithm selects compression type (none, gzip, zstd, s2, snappy, lz4)
	Algorithm string `yaml:"algorithm" json:"algorithm"`
	// Level sets compression ratio vs speed (1-9)
	Level int `yaml:"level" json:"level"`
	// S3 publishing target
	S3 S3Config `yaml:"s3" json:"s3"`
	// GCS publishing target
	GCS GCSConfig `yaml:"gcs" json:"gcs"`
}

// S3Config describes an S3 bucket target.
type S3Config struct {
	Bucket   string `yaml:"bucket" json:"bucket"`
	Region   string `yaml:"region" json:"region"`
	Prefix   string `yaml:"prefix" json:"prefix"`
	PartSize int64  `yaml:"part_size" json:"part_size"`
}

// GCSConfig describes a Google Cloud Storage bucket target.
type GCSConfig struct {
	Bucket          string `yaml:"bucket" json:"bucket"`
	Prefix          string `yaml:"prefix" json:"prefix"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogEncoding is json or console
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	// MetricsAddr serves Prometheus metrics when non-empty (e.g. ":9090")
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// EnableTracing activates OpenTelemetry tracing
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Table: TableConfig{
			PrefetchSize:       1000,
			FlushEvery:         500,
			SeekThreshold:      64,
			NullString:         "null",
			LineTerminator:     "\n",
			FollowPollInterval: 200 * time.Millisecond,
		},
		Storage: StorageConfig{
			WorkDir:  ".",
			FileMode: 0o644,
		},
		Reader: ReaderConfig{
			PollInterval: 250 * time.Millisecond,
			WaitTimeout:  5 * time.Minute,
			Mmap:         true,
		},
		Export: ExportConfig{
			Algorithm: "gzip",
			Level:     6,
			S3: S3Config{
				PartSize: 8 << 20,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogEncoding:       "json",
			EnableTracing:     false,
			TracingSampleRate: 0.1,
		},
	}
}

// Validate validates the configuration for correctness.
// A prefetch size below MinPrefetchSize is raised rather than rejected.
func (c *Config) Validate() error {
	if c.Table.PrefetchSize < MinPrefetchSize {
		c.Table.PrefetchSize = MinPrefetchSize
	}
	if c.Table.FlushEvery <= 0 {
		return invalid("flush_every must be positive")
	}
	if c.Table.SeekThreshold < 0 {
		return invalid("seek_threshold cannot be negative")
	}
	if c.Table.LineTerminator != "\n" && c.Table.LineTerminator != "\r\n" {
		return invalid("line_terminator must be \\n or \\r\\n")
	}
	if c.Table.NullString == "" {
		return invalid("null_string is required")
	}
	if c.Reader.PollInterval <= 0 {
		return invalid("poll_interval must be positive")
	}
	if c.Export.Level < 0 || c.Export.Level > 9 {
		return invalid("export level must be between 0 and 9")
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		return invalid("tracing_sample_rate must be between 0 and 1")
	}
	return nil
}

func invalid(msg string) error {
	return errors.New(errors.ErrorTypeConfig, msg)
}

// HasS3 returns true if an S3 publishing target is configured
func (e *ExportConfig) HasS3() bool {
	return e.S3.Bucket != ""
}

// HasGCS returns true if a GCS publishing target is configured
func (e *ExportConfig) HasGCS() bool {
	return e.GCS.Bucket != ""
}
