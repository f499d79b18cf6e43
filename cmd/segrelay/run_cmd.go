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

	"github.com/ManuGH/segrelay/internal/api"
	"github.com/ManuGH/segrelay/internal/config"
	"github.com/ManuGH/segrelay/internal/daemon"
	"github.com/ManuGH/segrelay/internal/health"
	xglog "github.com/ManuGH/segrelay/internal/log"
	"github.com/ManuGH/segrelay/internal/recorder"
	"github.com/ManuGH/segrelay/internal/telemetry"
)

func runDaemonCLI(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	record := fs.Bool("record", false, "also record from the capture device")
	label := fs.String("label", "", "work label (model=..;serial=..) to start when recording")
	process := fs.String("process", "", "process name of the work")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, loader, err := loadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := health.PerformStartupChecks(ctx, cfg, health.StartupOptions{RequireFFmpeg: *record}); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "startup.check_failed").Msg("pre-flight checks failed")
		return 1
	}

	tp, err := telemetry.NewProvider(ctx, telemetryConfig(cfg))
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialise tracing")
		return 1
	}
	defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()

	store, err := daemon.OpenStore(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open catalog")
		return 1
	}
	comps, err := daemon.Build(ctx, cfg, store)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build daemon")
		return 1
	}

	var apiServer *api.Server
	if cfg.API.Listen != "" {
		tracing := ""
		if cfg.Telemetry.Enabled {
			tracing = "segrelay-api"
		}
		apiServer = api.New(api.Config{
			Listen:         cfg.API.Listen,
			RateLimit:      cfg.API.RateLimit,
			TracingService: tracing,
		}, api.Deps{Store: store, Scheduler: comps.Scheduler, Health: comps.Health})
	}

	app, err := daemon.NewApp(config.NewHolder(cfg, loader), comps, apiServer)
	if err != nil {
		_ = comps.Close(ctx)
		logger.Error().Err(err).Msg("failed to create daemon")
		return 1
	}

	if *record {
		session, src := daemon.NewRecorder(cfg, store)
		if err := openWork(ctx, session, *label, *process); err != nil {
			_ = comps.Close(ctx)
			logger.Error().Err(err).Msg("failed to open work")
			return 1
		}
		app.WithRecording(session, src)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.failed").Msg("daemon exited with error")
		return 1
	}
	return 0
}

// openWork starts a work from label, or restores the latest open one.
func openWork(ctx context.Context, session *recorder.Session, label, process string) error {
	if label == "" {
		w, err := session.Restore(ctx)
		if err != nil {
			return err
		}
		if w == nil {
			logger := xglog.WithComponent("cli")
			logger.Warn().Msg("no work open; segments stay unassigned")
		}
		return nil
	}
	parsed, err := recorder.ParseWorkLabel(label)
	if err != nil {
		return err
	}
	_, err = session.StartWork(ctx, parsed, process)
	return err
}

func telemetryConfig(cfg config.AppConfig) telemetry.Config {
	return telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "segrelay",
		ServiceVersion: cfg.Version,
		Environment:    "production",
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	}
}
