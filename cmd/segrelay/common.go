// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/segrelay/internal/config"
	xglog "github.com/ManuGH/segrelay/internal/log"
	"github.com/ManuGH/segrelay/internal/version"
)

// loadConfig resolves the config path, loads and validates configuration and
// reconfigures the global logger from it.
func loadConfig(explicitPath string) (config.AppConfig, *config.Loader, error) {
	xglog.Configure(xglog.Config{Level: "info", Service: "segrelay", Version: version.Version})

	path := resolveConfigPath(explicitPath)
	loader := config.NewLoader(path, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return config.AppConfig{}, nil, fmt.Errorf("load config %q: %w", path, err)
	}

	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: "segrelay", Version: cfg.Version})
	logger := xglog.WithComponent("cli")
	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str(xglog.FieldPath, path).
		Msg("configuration loaded")
	return cfg, loader, nil
}

// resolveConfigPath prefers the flag, then SEGRELAY_CONFIG, then
// ${SEGRELAY_DATA_DIR}/config.yaml when it exists.
func resolveConfigPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(config.EnvConfigPath)); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(os.Getenv(config.EnvPrefix + "DATA_DIR"))
	if dataDir == "" {
		return ""
	}
	auto := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(auto); err == nil {
		return auto
	}
	return ""
}
