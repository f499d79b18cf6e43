// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"time"
)

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPtr[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, field, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, v, err)
	}
	*dst = d
	return nil
}

// mergeFileConfig overlays every field set in the file onto cfg.
func mergeFileConfig(cfg *AppConfig, f *FileConfig) error {
	setString(&cfg.DataDir, f.DataDir)
	setString(&cfg.LogLevel, f.LogLevel)

	setString(&cfg.Catalog.Backend, f.Catalog.Backend)
	setString(&cfg.Catalog.Path, f.Catalog.Path)

	c := &cfg.Capture
	setString(&c.Device, f.Capture.Device)
	setPtr(&c.Width, f.Capture.Width)
	setPtr(&c.Height, f.Capture.Height)
	setPtr(&c.FPS, f.Capture.FPS)
	setString(&c.AudioDevice, f.Capture.AudioDevice)
	setString(&c.FFmpegBin, f.Capture.FFmpegBin)
	setString(&c.VAAPIDevice, f.Capture.VAAPIDevice)
	setString(&c.OutputDir, f.Capture.OutputDir)
	if len(f.Capture.Encoders) > 0 {
		c.Encoders = append([]string(nil), f.Capture.Encoders...)
	}

	u := &cfg.Upload
	setString(&u.Endpoint, f.Upload.Endpoint)
	setString(&u.APIKey, f.Upload.APIKey)
	setPtr(&u.ChunkSize, f.Upload.ChunkSize)
	setPtr(&u.MaxRetry, f.Upload.MaxRetry)
	setString(&u.MetadataSeparator, f.Upload.MetadataSeparator)
	setPtr(&u.MethodOverride, f.Upload.MethodOverride)
	setPtr(&u.Checksum, f.Upload.Checksum)
	setPtr(&u.BandwidthLimit, f.Upload.BandwidthLimit)
	setString(&u.LeaseBackend, f.Upload.LeaseBackend)
	setString(&u.RedisAddr, f.Upload.RedisAddr)
	setPtr(&u.RedisDB, f.Upload.RedisDB)
	setPtr(&u.BreakerThreshold, f.Upload.BreakerThreshold)

	setPtr(&cfg.Schedule.NetworkProbe, f.Schedule.NetworkProbe)
	setString(&cfg.API.Listen, f.API.Listen)
	setPtr(&cfg.API.RateLimit, f.API.RateLimit)

	t := &cfg.Telemetry
	setPtr(&t.Enabled, f.Telemetry.Enabled)
	setString(&t.Exporter, f.Telemetry.Exporter)
	setString(&t.Endpoint, f.Telemetry.Endpoint)
	setPtr(&t.SamplingRate, f.Telemetry.SamplingRate)

	durations := []struct {
		dst   *time.Duration
		field string
		value string
	}{
		{&c.SegmentInterval, "capture.segment_interval", f.Capture.SegmentInterval},
		{&c.StopTimeout, "capture.stop_timeout", f.Capture.StopTimeout},
		{&u.RequestTimeout, "upload.request_timeout", f.Upload.RequestTimeout},
		{&u.LeaseTTL, "upload.lease_ttl", f.Upload.LeaseTTL},
		{&u.BreakerReset, "upload.breaker_reset", f.Upload.BreakerReset},
		{&cfg.Schedule.Interval, "schedule.interval", f.Schedule.Interval},
		{&cfg.Schedule.BackoffInitial, "schedule.backoff_initial", f.Schedule.BackoffInitial},
		{&cfg.Schedule.BackoffMax, "schedule.backoff_max", f.Schedule.BackoffMax},
		{&cfg.Retention.MaxAge, "retention.max_age", f.Retention.MaxAge},
		{&cfg.Retention.SweepInterval, "retention.sweep_interval", f.Retention.SweepInterval},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.field, d.value); err != nil {
			return err
		}
	}
	return nil
}
