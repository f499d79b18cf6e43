// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/segrelay/internal/validate"
)

// Validate validates an AppConfig using the centralized validation package
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.Directory("DataDir", cfg.DataDir, false)
	v.OneOf("LogLevel", cfg.LogLevel, []string{"debug", "info", "warn", "error"})

	v.OneOf("Catalog.Backend", cfg.Catalog.Backend, []string{"sqlite", "badger", "memory"})
	if cfg.Catalog.Backend != "memory" {
		v.NotEmpty("Catalog.Path", cfg.Catalog.Path)
	}

	c := cfg.Capture
	v.Positive("Capture.Width", c.Width)
	v.Positive("Capture.Height", c.Height)
	if c.Width%2 != 0 || c.Height%2 != 0 {
		v.AddError("Capture", "frame dimensions must be even", [2]int{c.Width, c.Height})
	}
	v.Range("Capture.FPS", c.FPS, 1, 120)
	v.DurationRange("Capture.SegmentInterval", c.SegmentInterval, MinSegmentInterval, MaxSegmentInterval)
	v.DurationRange("Capture.StopTimeout", c.StopTimeout, 100*time.Millisecond, time.Minute)
	v.NotEmpty("Capture.FFmpegBin", c.FFmpegBin)

	u := cfg.Upload
	if u.Endpoint != "" {
		v.URL("Upload.Endpoint", u.Endpoint, []string{"http", "https"})
	}
	v.Range("Upload.ChunkSize", u.ChunkSize, 64<<10, 64<<20)
	v.Range("Upload.MaxRetry", u.MaxRetry, 1, 100)
	v.OneOf("Upload.MetadataSeparator", u.MetadataSeparator, []string{",", ";"})
	v.NonNegative("Upload.BandwidthLimit", u.BandwidthLimit)
	v.DurationRange("Upload.RequestTimeout", u.RequestTimeout, time.Second, 10*time.Minute)
	v.OneOf("Upload.LeaseBackend", u.LeaseBackend, []string{"memory", "redis"})
	if u.LeaseBackend == "redis" {
		v.NotEmpty("Upload.RedisAddr", u.RedisAddr)
	}
	v.DurationRange("Upload.LeaseTTL", u.LeaseTTL, 10*time.Second, time.Hour)
	v.Positive("Upload.BreakerThreshold", u.BreakerThreshold)
	v.DurationRange("Upload.BreakerReset", u.BreakerReset, time.Second, time.Hour)

	s := cfg.Schedule
	v.DurationRange("Schedule.Interval", s.Interval, time.Minute, 24*time.Hour)
	v.DurationRange("Schedule.BackoffInitial", s.BackoffInitial, time.Second, time.Hour)
	if s.BackoffMax < s.BackoffInitial {
		v.AddError("Schedule.BackoffMax", "must not be below backoff_initial", s.BackoffMax)
	}

	if cfg.Retention.MaxAge < 0 {
		v.AddError("Retention.MaxAge", "cannot be negative", cfg.Retention.MaxAge)
	}
	if cfg.Retention.MaxAge > 0 {
		v.DurationRange("Retention.SweepInterval", cfg.Retention.SweepInterval, time.Minute, 24*time.Hour)
	}

	if cfg.API.Listen != "" {
		v.ListenAddr("API.Listen", cfg.API.Listen)
	}
	v.NonNegative("API.RateLimit", int64(cfg.API.RateLimit))

	if cfg.Telemetry.Enabled {
		v.OneOf("Telemetry.Exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("Telemetry.Endpoint", cfg.Telemetry.Endpoint)
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			v.AddError("Telemetry.SamplingRate", "must be between 0 and 1", cfg.Telemetry.SamplingRate)
		}
	}

	return v.Err()
}
