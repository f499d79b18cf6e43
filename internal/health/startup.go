// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/segrelay/internal/config"
	"github.com/ManuGH/segrelay/internal/log"
)

// StartupOptions selects which optional dependencies must be present.
type StartupOptions struct {
	RequireFFmpeg bool
}

// PerformStartupChecks validates the environment before the daemon starts
// serving or recording.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig, opts StartupOptions) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	for _, dir := range []string{cfg.DataDir, cfg.Capture.OutputDir} {
		if err := ensureWritableDir(logger, dir); err != nil {
			return fmt.Errorf("directory check failed: %w", err)
		}
	}

	if cfg.API.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.API.Listen); err != nil {
			return fmt.Errorf("invalid API listen address %q: %w", cfg.API.Listen, err)
		}
	}

	if cfg.Upload.Endpoint == "" {
		logger.Warn().Msg("upload endpoint not configured; segments will accumulate locally")
	}

	if opts.RequireFFmpeg {
		bin := strings.TrimSpace(cfg.Capture.FFmpegBin)
		if bin == "" {
			bin = "ffmpeg"
		}
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("ffmpeg binary not found (%s): %w", bin, err)
		}
		logger.Info().Str("ffmpeg", bin).Msg("capture dependencies available")
	}

	if strings.EqualFold(cfg.Catalog.Backend, "memory") {
		logger.Warn().Msg("catalog uses in-memory backend; upload progress is lost on restart")
	}

	tempDir := filepath.Clean(os.TempDir())
	dataDir := filepath.Clean(cfg.DataDir)
	if tempDir != "." && (dataDir == tempDir || strings.HasPrefix(dataDir, tempDir+string(filepath.Separator))) {
		logger.Warn().Str("data_dir", cfg.DataDir).Msg("data directory is under temp; segments may be lost on reboot")
	}

	return ctx.Err()
}

func ensureWritableDir(logger zerolog.Logger, path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	res := NewDirChecker("dir", path).Check(context.Background())
	if res.Status != StatusHealthy {
		return fmt.Errorf("%s: %s %s", path, res.Error, res.Message)
	}
	logger.Debug().Str(log.FieldPath, path).Msg("directory is writable")
	return nil
}
