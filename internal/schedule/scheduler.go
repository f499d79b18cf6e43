// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package schedule decides when the uploader runs: periodically, on demand,
// and with exponential backoff after a run that left work behind.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/segrelay/internal/log"
	"github.com/ManuGH/segrelay/internal/metrics"
	"github.com/ManuGH/segrelay/internal/upload"
)

const (
	TriggerStartup  = "startup"
	TriggerPeriodic = "periodic"
	TriggerManual   = "manual"
	TriggerBackoff  = "backoff"
)

// DefaultProbeTimeout bounds one network probe.
const DefaultProbeTimeout = 5 * time.Second

// Runner is one drain of the upload queue.
type Runner interface {
	Run(ctx context.Context) upload.Result
}

// Probe reports whether the network path to the endpoint is usable.
type Probe func(ctx context.Context) error

// Config tunes the scheduler. Zero values take the defaults.
type Config struct {
	Interval       time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// Probe gates every run; nil runs unconditionally.
	Probe Probe
}

// Scheduler manages the periodic execution of the uploader.
type Scheduler struct {
	runner Runner
	probe  Probe
	logger zerolog.Logger
	clock  Clock

	trigger chan struct{}

	mu         sync.Mutex
	interval   time.Duration
	initial    time.Duration
	max        time.Duration
	backoff    time.Duration
	lastRun    time.Time
	lastResult string
}

// New creates a scheduler for runner.
func New(runner Runner, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 30 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.Interval
	}
	return &Scheduler{
		runner:   runner,
		probe:    cfg.Probe,
		logger:   log.WithComponent("scheduler"),
		clock:    RealClock{},
		trigger:  make(chan struct{}, 1),
		interval: cfg.Interval,
		initial:  cfg.BackoffInitial,
		max:      cfg.BackoffMax,
	}
}

// Trigger requests a run as soon as the current one, if any, finishes.
// Requests coalesce.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// SetInterval changes the periodic interval from the next scheduling on.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
}

// LastRun returns the time and result of the latest run.
func (s *Scheduler) LastRun() (time.Time, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastResult
}

// Run loops until ctx is cancelled. The first run starts immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Str(log.FieldEvent, "scheduler.started").Msg("upload scheduler started")
	timer := s.clock.NewTimer(0)
	defer timer.Stop()

	reason := TriggerStartup
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Str(log.FieldEvent, "scheduler.stopped").Msg("upload scheduler stopped")
			return nil
		case <-timer.C():
		case <-s.trigger:
			timer.Stop()
			reason = TriggerManual
		}

		res := s.runOnce(ctx, reason)
		if ctx.Err() != nil {
			continue
		}
		next, backingOff := s.next(res)
		if backingOff {
			reason = TriggerBackoff
		} else {
			reason = TriggerPeriodic
		}
		s.logger.Debug().Str("result", res.String()).Dur("next_in", next).Msg("next upload run scheduled")
		timer.Reset(next)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, reason string) upload.Result {
	res := upload.ResultRetry
	label := "offline"
	if err := s.checkNetwork(ctx); err != nil {
		s.logger.Info().Err(err).Str("trigger", reason).Str(log.FieldEvent, "scheduler.offline").Msg("endpoint unreachable, run skipped")
	} else {
		res = s.runner.Run(ctx)
		label = res.String()
	}
	metrics.IncUploadRun(reason, label)

	s.mu.Lock()
	s.lastRun = s.clock.Now()
	s.lastResult = label
	s.mu.Unlock()
	return res
}

func (s *Scheduler) checkNetwork(ctx context.Context) error {
	if s.probe == nil {
		return nil
	}
	return s.probe(ctx)
}

// next returns the delay before the following run. A retry doubles the
// backoff from BackoffInitial up to BackoffMax; success resets it.
func (s *Scheduler) next(res upload.Result) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res == upload.ResultSuccess {
		s.backoff = 0
		return s.interval, false
	}
	if s.backoff == 0 {
		s.backoff = s.initial
	} else {
		s.backoff *= 2
	}
	if s.backoff > s.max {
		s.backoff = s.max
	}
	return s.backoff, true
}

// HTTPProbe sends HEAD to the endpoint's origin. Any HTTP response counts as
// reachable; only transport failures fail the probe. timeout <= 0 uses
// DefaultProbeTimeout.
func HTTPProbe(client *http.Client, endpoint string, timeout time.Duration) (Probe, error) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("schedule: invalid probe endpoint %q", endpoint)
	}
	origin := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}).String()
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, origin, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("probe %s: timeout", u.Host)
			}
			return fmt.Errorf("probe %s: %w", u.Host, err)
		}
		_ = resp.Body.Close()
		return nil
	}, nil
}
