// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/segrelay/internal/log"
)

// EnvConfigPath names the YAML file when no --config flag is given.
const EnvConfigPath = EnvPrefix + "CONFIG"

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the YAML file path, empty for ENV-only configuration.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) envString(key, defaultVal string) string {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envInt64(key string, defaultVal int64) int64 {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt64(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envList(key string, defaultVal []string) []string {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseList(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults.
// Order: defaults, strict file parse, env overrides, path resolution, validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := AppConfig{}
	setDefaults(&cfg)

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	l.warnUnknownEnv()

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Catalog.Path != "" && cfg.Catalog.Backend != "memory" && !filepath.IsAbs(cfg.Catalog.Path) {
		cfg.Catalog.Path = filepath.Join(cfg.DataDir, cfg.Catalog.Path)
	}
	if cfg.Capture.OutputDir == "" {
		cfg.Capture.OutputDir = filepath.Join(cfg.DataDir, "segments")
	}
	cfg.Capture.SegmentInterval = ClampSegmentInterval(cfg.Capture.SegmentInterval)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ClampSegmentInterval bounds the rotation interval. Zero selects the default.
func ClampSegmentInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultSegmentInterval
	case d < MinSegmentInterval:
		return MinSegmentInterval
	case d > MaxSegmentInterval:
		return MaxSegmentInterval
	}
	return d
}

// loadFile loads configuration from a YAML file with STRICT parsing.
// Unknown fields will cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.DataDir = l.envString("DATA_DIR", cfg.DataDir)
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)

	cfg.Catalog.Backend = l.envString("CATALOG_BACKEND", cfg.Catalog.Backend)
	cfg.Catalog.Path = l.envString("CATALOG_PATH", cfg.Catalog.Path)

	c := &cfg.Capture
	c.Device = l.envString("CAPTURE_DEVICE", c.Device)
	c.Width = l.envInt("CAPTURE_WIDTH", c.Width)
	c.Height = l.envInt("CAPTURE_HEIGHT", c.Height)
	c.FPS = l.envInt("CAPTURE_FPS", c.FPS)
	c.AudioDevice = l.envString("CAPTURE_AUDIO_DEVICE", c.AudioDevice)
	c.SegmentInterval = l.envDuration("CAPTURE_SEGMENT_INTERVAL", c.SegmentInterval)
	c.StopTimeout = l.envDuration("CAPTURE_STOP_TIMEOUT", c.StopTimeout)
	c.FFmpegBin = l.envString("CAPTURE_FFMPEG_BIN", c.FFmpegBin)
	c.Encoders = l.envList("CAPTURE_ENCODERS", c.Encoders)
	c.VAAPIDevice = l.envString("CAPTURE_VAAPI_DEVICE", c.VAAPIDevice)
	c.OutputDir = l.envString("CAPTURE_OUTPUT_DIR", c.OutputDir)

	u := &cfg.Upload
	u.Endpoint = l.envString("UPLOAD_ENDPOINT", u.Endpoint)
	u.APIKey = l.envString("UPLOAD_API_KEY", u.APIKey)
	u.ChunkSize = l.envInt("UPLOAD_CHUNK_SIZE", u.ChunkSize)
	u.MaxRetry = l.envInt("UPLOAD_MAX_RETRY", u.MaxRetry)
	u.MetadataSeparator = l.envString("UPLOAD_METADATA_SEPARATOR", u.MetadataSeparator)
	u.MethodOverride = l.envBool("UPLOAD_METHOD_OVERRIDE", u.MethodOverride)
	u.Checksum = l.envBool("UPLOAD_CHECKSUM", u.Checksum)
	u.BandwidthLimit = l.envInt64("UPLOAD_BANDWIDTH_LIMIT", u.BandwidthLimit)
	u.RequestTimeout = l.envDuration("UPLOAD_REQUEST_TIMEOUT", u.RequestTimeout)
	u.LeaseBackend = l.envString("UPLOAD_LEASE_BACKEND", u.LeaseBackend)
	u.RedisAddr = l.envString("UPLOAD_REDIS_ADDR", u.RedisAddr)
	u.RedisDB = l.envInt("UPLOAD_REDIS_DB", u.RedisDB)
	u.LeaseTTL = l.envDuration("UPLOAD_LEASE_TTL", u.LeaseTTL)
	u.BreakerThreshold = l.envInt("UPLOAD_BREAKER_THRESHOLD", u.BreakerThreshold)
	u.BreakerReset = l.envDuration("UPLOAD_BREAKER_RESET", u.BreakerReset)

	s := &cfg.Schedule
	s.Interval = l.envDuration("SCHEDULE_INTERVAL", s.Interval)
	s.BackoffInitial = l.envDuration("SCHEDULE_BACKOFF_INITIAL", s.BackoffInitial)
	s.BackoffMax = l.envDuration("SCHEDULE_BACKOFF_MAX", s.BackoffMax)
	s.NetworkProbe = l.envBool("SCHEDULE_NETWORK_PROBE", s.NetworkProbe)

	cfg.Retention.MaxAge = l.envDuration("RETENTION_MAX_AGE", cfg.Retention.MaxAge)
	cfg.Retention.SweepInterval = l.envDuration("RETENTION_SWEEP_INTERVAL", cfg.Retention.SweepInterval)

	cfg.API.Listen = l.envString("API_LISTEN", cfg.API.Listen)
	cfg.API.RateLimit = l.envInt("API_RATE_LIMIT", cfg.API.RateLimit)

	t := &cfg.Telemetry
	t.Enabled = l.envBool("TELEMETRY_ENABLED", t.Enabled)
	t.Exporter = l.envString("TELEMETRY_EXPORTER", t.Exporter)
	t.Endpoint = l.envString("TELEMETRY_ENDPOINT", t.Endpoint)
	t.SamplingRate = l.envFloat("TELEMETRY_SAMPLING_RATE", t.SamplingRate)
}

// warnUnknownEnv reports SEGRELAY_ variables nothing reads, usually typos.
func (l *Loader) warnUnknownEnv() {
	logger := log.WithComponent("config")
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if _, ok := l.ConsumedEnvKeys[key]; !ok && key != EnvConfigPath {
			logger.Warn().Str("key", key).Str(log.FieldEvent, "config.unknown_env").Msg("unknown environment variable ignored")
		}
	}
}
