// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the local status API: segment and work listings,
// on-demand upload triggering, probes and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/segrelay/internal/api/middleware"
	"github.com/ManuGH/segrelay/internal/catalog"
	"github.com/ManuGH/segrelay/internal/health"
	"github.com/ManuGH/segrelay/internal/log"
)

// Scheduler is the subset of the upload scheduler the API drives.
type Scheduler interface {
	Trigger()
	LastRun() (time.Time, string)
}

// Config controls the listener and ingress stack.
type Config struct {
	Listen         string
	RateLimit      int
	TracingService string
}

// Deps are the collaborators the handlers read from.
type Deps struct {
	Store     catalog.Store
	Scheduler Scheduler // nil disables the upload routes
	Health    *health.Manager
}

// Server owns the router and the HTTP listener.
type Server struct {
	cfg    Config
	deps   Deps
	router *chi.Mux
	logger zerolog.Logger
}

func New(cfg Config, deps Deps) *Server {
	if deps.Health == nil {
		deps.Health = health.NewManager("")
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: log.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *chi.Mux {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		EnableLogging:  true,
		TracingService: s.cfg.TracingService,
	})

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(middleware.APIRateLimit(s.cfg.RateLimit))
		}
		r.Get("/segments", s.handleListSegments)
		r.Get("/segments/{token}", s.handleGetSegment)
		r.Get("/works", s.handleListWorks)
		r.Get("/works/{id}", s.handleGetWork)
		if s.deps.Scheduler != nil {
			r.Post("/upload/trigger", s.handleTriggerUpload)
			r.Get("/upload/status", s.handleUploadStatus)
		}
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info().Str(log.FieldEvent, "api.listening").Str("addr", ln.Addr().String()).Msg("status API listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Str(log.FieldEvent, "api.stopped").Msg("status API stopped")
	return nil
}
