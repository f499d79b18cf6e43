// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/segrelay/internal/api"
	"github.com/ManuGH/segrelay/internal/config"
	"github.com/ManuGH/segrelay/internal/log"
	"github.com/ManuGH/segrelay/internal/recorder"
)

// App owns the long-lived runtime: config watching and reload wiring, the
// upload scheduler, retention, the status API and an optional recording.
type App struct {
	logger       zerolog.Logger
	holder       *config.Holder
	comps        *Components
	apiServer    *api.Server
	reloadSignal os.Signal

	session *recorder.Session
	source  recorder.FrameSource
}

// NewApp creates an App. apiServer may be nil to run headless.
func NewApp(holder *config.Holder, comps *Components, apiServer *api.Server) (*App, error) {
	if holder == nil {
		return nil, ErrMissingHolder
	}
	if comps == nil || comps.Store == nil {
		return nil, ErrMissingStore
	}
	return &App{
		logger:       log.WithComponent("daemon"),
		holder:       holder,
		comps:        comps,
		apiServer:    apiServer,
		reloadSignal: syscall.SIGHUP,
	}, nil
}

// WithRecording makes Run record from src for the lifetime of the app.
func (a *App) WithRecording(session *recorder.Session, src recorder.FrameSource) {
	a.session = session
	a.source = src
}

// Run blocks until ctx is cancelled or a subsystem fails, then releases all
// components.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := a.comps.Close(closeCtx); err != nil {
			a.logger.Warn().Err(err).Msg("shutdown completed with errors")
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	// Watcher is best-effort: startup must not fail if it cannot be started.
	if err := a.holder.StartWatcher(ctx); err != nil {
		a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
	}
	defer a.holder.Stop()

	applyCh := make(chan config.AppConfig, 1)
	a.holder.RegisterListener(applyCh)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg := <-applyCh:
				a.apply(cfg)
			}
		}
	})

	if a.reloadSignal != nil {
		g.Go(func() error {
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, a.reloadSignal)
			defer signal.Stop(hup)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hup:
					a.logger.Info().
						Str(log.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")
					if err := a.holder.Reload(ctx); err != nil {
						a.logger.Warn().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("config reload failed")
					}
				}
			}
		})
	}

	g.Go(func() error { return a.comps.Scheduler.Run(ctx) })
	g.Go(func() error { return a.comps.Sweeper.Run(ctx) })

	if a.apiServer != nil {
		g.Go(func() error { return a.apiServer.ListenAndServe(ctx) })
	}

	if a.session != nil && a.source != nil {
		g.Go(func() error {
			err := a.session.Record(ctx, a.source)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	a.logger.Info().Str(log.FieldEvent, "daemon.started").Msg("segrelay daemon running")
	err := g.Wait()
	a.logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("segrelay daemon stopped")
	return err
}

// apply pushes the settings that may change at runtime into live components.
func (a *App) apply(cfg config.AppConfig) {
	a.comps.Bandwidth.SetLimit(cfg.Upload.BandwidthLimit)
	a.comps.Scheduler.SetInterval(cfg.Schedule.Interval)
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "segrelay", Version: cfg.Version})
	a.logger.Info().
		Str(log.FieldEvent, "config.applied").
		Int64("bandwidth_limit", cfg.Upload.BandwidthLimit).
		Dur("interval", cfg.Schedule.Interval).
		Msg("applied reloaded configuration")
}
