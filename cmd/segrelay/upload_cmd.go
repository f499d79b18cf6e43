// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/segrelay/internal/daemon"
	xglog "github.com/ManuGH/segrelay/internal/log"
	"github.com/ManuGH/segrelay/internal/upload"
)

// runUploadCLI drains the queue once. Exit code 0 means nothing is left to
// upload; 3 means a retry is needed.
func runUploadCLI(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := xglog.WithComponent("upload")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := daemon.OpenStore(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open catalog")
		return 1
	}
	comps, err := daemon.Build(ctx, cfg, store)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build uploader")
		return 1
	}
	defer func() { _ = comps.Close(context.WithoutCancel(ctx)) }()

	res := comps.Uploader.Run(ctx)
	_, _ = fmt.Fprintln(stdout, res.String())
	if res != upload.ResultSuccess {
		return 3
	}
	return 0
}
