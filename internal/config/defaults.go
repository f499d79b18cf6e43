// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

const (
	DefaultSegmentInterval = 5 * time.Minute
	MinSegmentInterval     = time.Minute
	MaxSegmentInterval     = 10 * time.Minute

	DefaultScheduleInterval = 15 * time.Minute
	DefaultBackoffInitial   = 30 * time.Second
	DefaultBackoffMax       = 15 * time.Minute

	DefaultListen = "127.0.0.1:8088"
)

func setDefaults(cfg *AppConfig) {
	cfg.DataDir = "/var/lib/segrelay"
	cfg.LogLevel = "info"

	cfg.Catalog = CatalogConfig{
		Backend: "sqlite",
		Path:    "catalog.db",
	}

	cfg.Capture = CaptureConfig{
		Device:          "/dev/video0",
		Width:           1280,
		Height:          720,
		FPS:             30,
		SegmentInterval: DefaultSegmentInterval,
		StopTimeout:     3 * time.Second,
		FFmpegBin:       "ffmpeg",
	}

	cfg.Upload = UploadConfig{
		ChunkSize:         1 << 20,
		MaxRetry:          5,
		MetadataSeparator: ",",
		RequestTimeout:    30 * time.Second,
		LeaseBackend:      "memory",
		LeaseTTL:          2 * time.Minute,
		BreakerThreshold:  5,
		BreakerReset:      time.Minute,
	}

	cfg.Schedule = ScheduleConfig{
		Interval:       DefaultScheduleInterval,
		BackoffInitial: DefaultBackoffInitial,
		BackoffMax:     DefaultBackoffMax,
	}

	cfg.Retention = RetentionConfig{
		SweepInterval: time.Hour,
	}

	cfg.API = APIConfig{
		Listen:    DefaultListen,
		RateLimit: 120,
	}

	cfg.Telemetry = TelemetryConfig{
		Exporter:     "grpc",
		Endpoint:     "localhost:4317",
		SamplingRate: 1.0,
	}
}
