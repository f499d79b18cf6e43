// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// AppConfig is the resolved runtime configuration.
type AppConfig struct {
	Version  string
	DataDir  string
	LogLevel string

	Catalog   CatalogConfig
	Capture   CaptureConfig
	Upload    UploadConfig
	Schedule  ScheduleConfig
	Retention RetentionConfig
	API       APIConfig
	Telemetry TelemetryConfig
}

// CatalogConfig selects the segment catalog backend.
type CatalogConfig struct {
	// Backend is sqlite, badger or memory.
	Backend string
	// Path of the database file (sqlite) or directory (badger).
	// Relative paths are resolved against DataDir.
	Path string
}

// CaptureConfig configures the recording pipeline.
type CaptureConfig struct {
	Device      string
	Width       int
	Height      int
	FPS         int
	AudioDevice string
	// SegmentInterval is clamped to [MinSegmentInterval, MaxSegmentInterval].
	SegmentInterval time.Duration
	StopTimeout     time.Duration
	FFmpegBin       string
	Encoders        []string
	VAAPIDevice     string
	// OutputDir holds recorded segments. Defaults to DataDir/segments.
	OutputDir string
}

// UploadConfig configures the tus client and uploader.
type UploadConfig struct {
	// Endpoint is the server base URL; the creation URL is derived from it.
	Endpoint          string
	APIKey            string
	ChunkSize         int
	MaxRetry          int
	MetadataSeparator string
	MethodOverride    bool
	Checksum          bool
	// BandwidthLimit in bytes per second; 0 is unlimited.
	BandwidthLimit   int64
	RequestTimeout   time.Duration
	LeaseBackend     string
	RedisAddr        string
	RedisDB          int
	LeaseTTL         time.Duration
	BreakerThreshold int
	BreakerReset     time.Duration
}

// ScheduleConfig drives periodic and backoff runs of the uploader.
type ScheduleConfig struct {
	Interval       time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// NetworkProbe gates runs on a HEAD request to the endpoint host.
	NetworkProbe bool
}

// RetentionConfig controls deletion of uploaded segment files.
type RetentionConfig struct {
	// MaxAge of COMPLETED segments before their file is removed; 0 disables.
	MaxAge        time.Duration
	SweepInterval time.Duration
}

// APIConfig configures the local status API.
type APIConfig struct {
	Listen string
	// RateLimit is requests per minute per client IP; 0 disables.
	RateLimit int
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool
	Exporter     string
	Endpoint     string
	SamplingRate float64
}

// FileConfig is the on-disk YAML schema. Durations are Go duration strings.
type FileConfig struct {
	DataDir   string              `yaml:"data_dir,omitempty"`
	LogLevel  string              `yaml:"log_level,omitempty"`
	Catalog   FileCatalogConfig   `yaml:"catalog,omitempty"`
	Capture   FileCaptureConfig   `yaml:"capture,omitempty"`
	Upload    FileUploadConfig    `yaml:"upload,omitempty"`
	Schedule  FileScheduleConfig  `yaml:"schedule,omitempty"`
	Retention FileRetentionConfig `yaml:"retention,omitempty"`
	API       FileAPIConfig       `yaml:"api,omitempty"`
	Telemetry FileTelemetryConfig `yaml:"telemetry,omitempty"`
}

type FileCatalogConfig struct {
	Backend string `yaml:"backend,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

type FileCaptureConfig struct {
	Device          string   `yaml:"device,omitempty"`
	Width           *int     `yaml:"width,omitempty"`
	Height          *int     `yaml:"height,omitempty"`
	FPS             *int     `yaml:"fps,omitempty"`
	AudioDevice     string   `yaml:"audio_device,omitempty"`
	SegmentInterval string   `yaml:"segment_interval,omitempty"`
	StopTimeout     string   `yaml:"stop_timeout,omitempty"`
	FFmpegBin       string   `yaml:"ffmpeg_bin,omitempty"`
	Encoders        []string `yaml:"encoders,omitempty"`
	VAAPIDevice     string   `yaml:"vaapi_device,omitempty"`
	OutputDir       string   `yaml:"output_dir,omitempty"`
}

type FileUploadConfig struct {
	Endpoint          string `yaml:"endpoint,omitempty"`
	APIKey            string `yaml:"api_key,omitempty"`
	ChunkSize         *int   `yaml:"chunk_size,omitempty"`
	MaxRetry          *int   `yaml:"max_retry,omitempty"`
	MetadataSeparator string `yaml:"metadata_separator,omitempty"`
	MethodOverride    *bool  `yaml:"method_override,omitempty"`
	Checksum          *bool  `yaml:"checksum,omitempty"`
	BandwidthLimit    *int64 `yaml:"bandwidth_limit,omitempty"`
	RequestTimeout    string `yaml:"request_timeout,omitempty"`
	LeaseBackend      string `yaml:"lease_backend,omitempty"`
	RedisAddr         string `yaml:"redis_addr,omitempty"`
	RedisDB           *int   `yaml:"redis_db,omitempty"`
	LeaseTTL          string `yaml:"lease_ttl,omitempty"`
	BreakerThreshold  *int   `yaml:"breaker_threshold,omitempty"`
	BreakerReset      string `yaml:"breaker_reset,omitempty"`
}

type FileScheduleConfig struct {
	Interval       string `yaml:"interval,omitempty"`
	BackoffInitial string `yaml:"backoff_initial,omitempty"`
	BackoffMax     string `yaml:"backoff_max,omitempty"`
	NetworkProbe   *bool  `yaml:"network_probe,omitempty"`
}

type FileRetentionConfig struct {
	MaxAge        string `yaml:"max_age,omitempty"`
	SweepInterval string `yaml:"sweep_interval,omitempty"`
}

type FileAPIConfig struct {
	Listen    string `yaml:"listen,omitempty"`
	RateLimit *int   `yaml:"rate_limit,omitempty"`
}

type FileTelemetryConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Exporter     string   `yaml:"exporter,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	SamplingRate *float64 `yaml:"sampling_rate,omitempty"`
}
