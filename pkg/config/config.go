package config

import (
	"fmt"
	"runtime"
)

// Archive methods supported by the packager.
const (
	ArchiveDeflate = "deflate"
	ArchiveZstd    = "zstd"
	ArchiveStore   = "store"
)

// File naming schemes for the per-type GeoPackage files.
const (
	NamingLocalized = "localized"
	NamingPlain     = "plain"
)

// Record error policies.
const (
	OnRecordErrorFail = "fail"
	OnRecordErrorSkip = "skip"
)

// Publish targets.
const (
	PublishS3  = "s3"
	PublishGCS = "gcs"
)

// DefaultQueueSize is the capacity of the channel between producers and the consumer.
const DefaultQueueSize = 1000

// DefaultArchiveName is the file name of the final archive inside the output directory.
const DefaultArchiveName = "gpkg.zip"

// Config is the configuration of one materialization run.
type Config struct {
	// Name identifies the run in logs and traces
	Name string `yaml:"name" json:"name"`

	Performance   PerformanceConfig   `yaml:"performance" json:"performance"`
	Output        OutputConfig        `yaml:"output" json:"output"`
	Sink          SinkConfig          `yaml:"sink" json:"sink"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Publish       PublishConfig       `yaml:"publish" json:"publish"`
}

// PerformanceConfig controls producer parallelism and backpressure.
type PerformanceConfig struct {
	// Workers defines the number of concurrent producers; 0 means one per CPU
	Workers int `yaml:"workers" json:"workers"`
	// QueueSize bounds the producer to consumer channel
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// OutputConfig describes where and how results are written.
type OutputConfig struct {
	Dir           string `yaml:"dir" json:"dir"`
	ArchiveName   string `yaml:"archive_name" json:"archive_name"`
	ArchiveMethod string `yaml:"archive_method" json:"archive_method"`
	Naming        string `yaml:"naming" json:"naming"`
	// KeepLooseFiles skips removal of the per-type files after archiving
	KeepLooseFiles bool `yaml:"keep_loose_files" json:"keep_loose_files"`
}

// SinkConfig holds behaviour switches of the sink itself.
type SinkConfig struct {
	// OnRecordError is "fail" to abort the run on a record that cannot be
	// encoded, or "skip" to drop it with a warning
	OnRecordError string `yaml:"on_record_error" json:"on_record_error"`
}

// ObservabilityConfig contains logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level" json:"log_level"`
	LogEncoding   string `yaml:"log_encoding" json:"log_encoding"`
	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics"`
	MetricsAddr   string `yaml:"metrics_addr" json:"metrics_addr"`
	EnableTracing bool   `yaml:"enable_tracing" json:"enable_tracing"`
}

// PublishConfig describes the optional upload of the archive.
type PublishConfig struct {
	// Target is empty, "s3" or "gcs"
	Target          string `yaml:"target" json:"target"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	Prefix          string `yaml:"prefix" json:"prefix"`
	Region          string `yaml:"region" json:"region"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
}

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		Name: "gpkgsink",
		Performance: PerformanceConfig{
			Workers:   runtime.NumCPU(),
			QueueSize: DefaultQueueSize,
		},
		Output: OutputConfig{
			Dir:           ".",
			ArchiveName:   DefaultArchiveName,
			ArchiveMethod: ArchiveDeflate,
			Naming:        NamingLocalized,
		},
		Sink: SinkConfig{
			OnRecordError: OnRecordErrorFail,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogEncoding: "json",
			MetricsAddr: ":9090",
		},
	}
}

// Validate validates the configuration for correctness.
func (c *Config) Validate() error {
	if c.Performance.Workers < 0 {
		return fmt.Errorf("workers cannot be negative")
	}
	if c.Performance.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output dir is required")
	}
	if c.Output.ArchiveName == "" {
		return fmt.Errorf("archive_name is required")
	}
	switch c.Output.ArchiveMethod {
	case ArchiveDeflate, ArchiveZstd, ArchiveStore:
	default:
		return fmt.Errorf("unknown archive_method %q", c.Output.ArchiveMethod)
	}
	switch c.Output.Naming {
	case NamingLocalized, NamingPlain:
	default:
		return fmt.Errorf("unknown naming %q", c.Output.Naming)
	}
	switch c.Sink.OnRecordError {
	case OnRecordErrorFail, OnRecordErrorSkip:
	default:
		return fmt.Errorf("unknown on_record_error %q", c.Sink.OnRecordError)
	}
	switch c.Publish.Target {
	case "":
	case PublishS3, PublishGCS:
		if c.Publish.Bucket == "" {
			return fmt.Errorf("publish bucket is required for target %q", c.Publish.Target)
		}
	default:
		return fmt.Errorf("unknown publish target %q", c.Publish.Target)
	}
	return nil
}

// GetWorkers returns the number of producers, defaulting to CPU count.
func (p *PerformanceConfig) GetWorkers() int {
	if p.Workers <= 0 {
		return runtime.NumCPU()
	}
	return p.Workers
}

// IsPublishEnabled reports whether the archive should be uploaded.
func (p *PublishConfig) IsPublishEnabled() bool {
	return p.Target != ""
}
