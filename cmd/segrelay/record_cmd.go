// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/segrelay/internal/daemon"
	"github.com/ManuGH/segrelay/internal/health"
	xglog "github.com/ManuGH/segrelay/internal/log"
)

// runRecordCLI records in the foreground without uploading.
func runRecordCLI(args []string) int {
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	label := fs.String("label", "", "work label (model=..;serial=..); empty resumes the open work")
	process := fs.String("process", "", "process name of the work")
	duration := fs.Duration("duration", 0, "stop after this long (0 records until interrupted)")
	keepOpen := fs.Bool("keep-open", false, "leave the work open on exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := xglog.WithComponent("record")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	if err := health.PerformStartupChecks(ctx, cfg, health.StartupOptions{RequireFFmpeg: true}); err != nil {
		logger.Error().Err(err).Msg("pre-flight checks failed")
		return 1
	}

	store, err := daemon.OpenStore(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open catalog")
		return 1
	}
	defer func() { _ = store.Close() }()

	session, src := daemon.NewRecorder(cfg, store)
	if err := openWork(ctx, session, *label, *process); err != nil {
		logger.Error().Err(err).Msg("failed to open work")
		return 1
	}

	recErr := session.Record(ctx, src)

	if !*keepOpen && session.Work() != nil {
		endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := session.End(endCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to end work")
		}
	}

	if recErr != nil && ctx.Err() == nil {
		logger.Error().Err(recErr).Str(xglog.FieldEvent, "record.failed").Msg("recording failed")
		return 1
	}
	return 0
}
