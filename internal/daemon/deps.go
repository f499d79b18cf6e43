// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon assembles the long-running segrelay process from configuration.
package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ManuGH/segrelay/internal/catalog"
	"github.com/ManuGH/segrelay/internal/config"
	"github.com/ManuGH/segrelay/internal/health"
	"github.com/ManuGH/segrelay/internal/lease"
	"github.com/ManuGH/segrelay/internal/log"
	"github.com/ManuGH/segrelay/internal/platform/httpx"
	xnet "github.com/ManuGH/segrelay/internal/platform/net"
	"github.com/ManuGH/segrelay/internal/resilience"
	"github.com/ManuGH/segrelay/internal/retention"
	"github.com/ManuGH/segrelay/internal/schedule"
	"github.com/ManuGH/segrelay/internal/upload"
	"github.com/ManuGH/segrelay/internal/upload/tus"
)

// ShutdownHook releases a resource. Hooks run in reverse registration order.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// Components are the wired upload-side collaborators.
type Components struct {
	Store     catalog.Store
	Locker    lease.Locker
	Bandwidth *upload.Bandwidth
	Uploader  *upload.Uploader
	Scheduler *schedule.Scheduler
	Sweeper   *retention.Sweeper
	Health    *health.Manager

	hooks  []namedHook
	logger zerolog.Logger
}

// OpenStore opens the configured catalog backend.
func OpenStore(cfg config.AppConfig) (catalog.Store, error) {
	store, err := catalog.OpenStore(cfg.Catalog.Backend, cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog (%s): %w", cfg.Catalog.Backend, err)
	}
	return store, nil
}

// NewClient builds the tus client, or returns nil when no endpoint is set.
func NewClient(cfg config.UploadConfig) (*tus.Client, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	if _, err := xnet.ParseEndpoint(cfg.Endpoint); err != nil {
		return nil, err
	}
	endpoint, err := tus.DeriveEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	logger := log.WithComponent("daemon")
	logger.Info().
		Str(log.FieldEvent, "upload.endpoint").
		Str(log.FieldEndpoint, xnet.SanitizeURL(endpoint)).
		Msg("upload endpoint configured")
	return tus.NewClient(endpoint, tus.Options{
		APIKey:            cfg.APIKey,
		MetadataSeparator: cfg.MetadataSeparator,
		MethodOverride:    cfg.MethodOverride,
		ChunkSize:         cfg.ChunkSize,
		HTTPClient:        httpx.NewTracedClient(cfg.RequestTimeout),
	})
}

// Build wires the store and everything that uploads from it. The returned
// Components own store and must be closed.
func Build(ctx context.Context, cfg config.AppConfig, store catalog.Store) (*Components, error) {
	if store == nil {
		return nil, ErrMissingStore
	}
	c := &Components{
		Store:  store,
		Health: health.NewManager(cfg.Version),
		logger: log.WithComponent("daemon"),
	}
	c.RegisterShutdownHook("catalog", func(context.Context) error { return store.Close() })

	locker, err := lease.Open(ctx, lease.Config{
		Backend:   cfg.Upload.LeaseBackend,
		RedisAddr: cfg.Upload.RedisAddr,
		RedisDB:   cfg.Upload.RedisDB,
	})
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("open lease backend: %w", err)
	}
	c.Locker = locker
	c.RegisterShutdownHook("lease", func(context.Context) error { return locker.Close() })

	client, err := NewClient(cfg.Upload)
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("upload client: %w", err)
	}

	c.Bandwidth = upload.NewBandwidth(cfg.Upload.BandwidthLimit)
	breaker := resilience.NewCircuitBreaker("upload", cfg.Upload.BreakerThreshold, cfg.Upload.BreakerReset,
		resilience.WithIgnoredErrors(tus.IsLocal))
	c.Uploader = upload.New(store, client, upload.Config{
		MaxRetry:   cfg.Upload.MaxRetry,
		AppVersion: cfg.Version,
		Checksum:   cfg.Upload.Checksum,
		LeaseTTL:   cfg.Upload.LeaseTTL,
	}, upload.WithLocker(locker), upload.WithBreaker(breaker), upload.WithBandwidth(c.Bandwidth))

	schedCfg := schedule.Config{
		Interval:       cfg.Schedule.Interval,
		BackoffInitial: cfg.Schedule.BackoffInitial,
		BackoffMax:     cfg.Schedule.BackoffMax,
	}
	if cfg.Schedule.NetworkProbe && client != nil {
		probe, err := schedule.HTTPProbe(httpx.NewClient(cfg.Upload.RequestTimeout), client.Endpoint(), 0)
		if err != nil {
			_ = c.Close(ctx)
			return nil, fmt.Errorf("network probe: %w", err)
		}
		schedCfg.Probe = probe
	}
	c.Scheduler = schedule.New(c.Uploader, schedCfg)
	c.Sweeper = retention.New(store, cfg.Retention.MaxAge, cfg.Retention.SweepInterval).
		WithRoot(cfg.Capture.OutputDir)

	c.Health.RegisterChecker(health.NewStoreChecker(store))
	c.Health.RegisterChecker(health.NewDirChecker("data_dir", cfg.DataDir))
	c.Health.RegisterChecker(health.NewLastRunChecker(c.Scheduler.LastRun, 0))

	return c, nil
}

// RegisterShutdownHook adds a hook run by Close.
func (c *Components) RegisterShutdownHook(name string, hook ShutdownHook) {
	c.hooks = append(c.hooks, namedHook{name: name, hook: hook})
}

// Close runs shutdown hooks in LIFO order and joins their errors.
func (c *Components) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.hooks) - 1; i >= 0; i-- {
		h := c.hooks[i]
		if err := h.hook(ctx); err != nil {
			c.logger.Warn().Err(err).Str("hook", h.name).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	c.hooks = nil
	return errors.Join(errs...)
}
