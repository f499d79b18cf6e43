// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package upload drains finished segments to the remote tus endpoint.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/segrelay/internal/catalog"
	"github.com/ManuGH/segrelay/internal/lease"
	"github.com/ManuGH/segrelay/internal/log"
	"github.com/ManuGH/segrelay/internal/metrics"
	"github.com/ManuGH/segrelay/internal/resilience"
	"github.com/ManuGH/segrelay/internal/telemetry"
	"github.com/ManuGH/segrelay/internal/upload/tus"
)

// Config tunes the uploader.
type Config struct {
	MaxRetry   int
	AppVersion string
	// Checksum adds a sha256 metadata field when an upload is created.
	Checksum bool
	LeaseTTL time.Duration
}

// Uploader runs the selector and protocol client and persists every state
// change. Run is not reentrant; a concurrent call returns ResultRetry.
type Uploader struct {
	store    catalog.Store
	client   *tus.Client
	selector Selector
	locker   lease.Locker
	breaker  *resilience.CircuitBreaker
	bw       *Bandwidth
	cfg      Config
	tracer   trace.Tracer
	logger   zerolog.Logger

	running atomic.Bool
	mu      sync.Mutex
	yield   context.CancelFunc
}

// Option configures optional collaborators.
type Option func(*Uploader)

// WithLocker sets the lease backend. Defaults to an in-process locker.
func WithLocker(l lease.Locker) Option { return func(u *Uploader) { u.locker = l } }

// WithBreaker gates every attempt behind a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option { return func(u *Uploader) { u.breaker = cb } }

// WithBandwidth throttles chunk sends.
func WithBandwidth(b *Bandwidth) Option { return func(u *Uploader) { u.bw = b } }

// New creates an Uploader. client may be nil when no endpoint is configured;
// runs then report ResultRetry without touching segments.
func New(store catalog.Store, client *tus.Client, cfg Config, opts ...Option) *Uploader {
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = DefaultMaxRetry
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = lease.DefaultTTL
	}
	u := &Uploader{
		store:    store,
		client:   client,
		selector: Selector{Store: store, MaxRetry: cfg.MaxRetry},
		cfg:      cfg,
		tracer:   telemetry.Tracer("segrelay/upload"),
		logger:   log.WithComponent("uploader"),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.locker == nil {
		u.locker = lease.NewMemoryLocker()
	}
	return u
}

// Yield asks a running Run to stop after the current chunk. Progress is kept.
func (u *Uploader) Yield() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.yield != nil {
		u.yield()
	}
}

// Run uploads segments until none is eligible, ctx is cancelled or Yield is
// called. It never sleeps; backoff is the caller's job.
func (u *Uploader) Run(ctx context.Context) Result {
	if !u.running.CompareAndSwap(false, true) {
		u.logger.Debug().Str(log.FieldEvent, "upload.run_skipped").Msg("uploader already running")
		return ResultRetry
	}
	defer u.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	u.mu.Lock()
	u.yield = cancel
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		u.yield = nil
		u.mu.Unlock()
		cancel()
	}()

	ctx, span := u.tracer.Start(ctx, "upload.run")
	defer span.End()

	res := u.drain(ctx)
	span.SetAttributes(attribute.String(telemetry.UploadOutcomeKey, res.String()))
	return res
}

func (u *Uploader) drain(ctx context.Context) Result {
	if u.client == nil {
		u.logger.Warn().Str(log.FieldEvent, "upload.no_endpoint").Msg("no upload endpoint configured")
		return ResultRetry
	}
	if pending, err := u.store.List(ctx, catalog.ListFilter{State: catalog.StatePending}); err == nil {
		metrics.SetPendingSegments(len(pending))
	}

	for {
		if ctx.Err() != nil {
			return ResultRetry
		}
		seg, err := u.selector.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				u.logger.Error().Err(err).Str(log.FieldEvent, "upload.select_failed").Msg("candidate selection failed")
			}
			return ResultRetry
		}
		if seg == nil {
			return ResultSuccess
		}

		work, ok, err := u.checkIntegrity(ctx, seg)
		if err != nil {
			u.logger.Error().Err(err).Str(log.FieldSegmentToken, seg.Token).Msg("integrity check failed")
			return ResultRetry
		}
		if !ok {
			continue
		}
		if res, done := u.attempt(ctx, seg, work); done {
			return res
		}
	}
}

// checkIntegrity fails segments that can never upload: no work ID, no work
// record or no local file. They are pinned at the retry cap and ok is false.
// A non-nil error is a store fault that ends the run.
func (u *Uploader) checkIntegrity(ctx context.Context, seg *catalog.Segment) (work *catalog.Work, ok bool, err error) {
	var reason string
	switch {
	case seg.WorkID == "":
		reason = "missing work id"
	default:
		work, err = u.store.GetWork(ctx, seg.WorkID)
		if errors.Is(err, catalog.ErrNotFound) {
			reason = "work record not found"
		} else if err != nil {
			return nil, false, err
		}
	}
	if reason == "" {
		if _, statErr := os.Stat(seg.Path); statErr != nil {
			reason = fmt.Sprintf("segment file unavailable: %v", statErr)
		}
	}
	if reason == "" {
		return work, true, nil
	}

	if _, err := u.store.Update(context.WithoutCancel(ctx), seg.Token, catalog.FailPermanently(u.cfg.MaxRetry)); err != nil {
		return nil, false, err
	}
	metrics.IncUploadOutcome("failed")
	u.logger.Warn().
		Str(log.FieldSegmentToken, seg.Token).
		Str(log.FieldWorkID, seg.WorkID).
		Str(log.FieldPath, seg.Path).
		Str("reason", reason).
		Str(log.FieldEvent, "upload.integrity_failed").
		Msg("segment cannot be uploaded")
	return nil, false, nil
}

// attempt uploads one segment. done reports that Run must return res.
func (u *Uploader) attempt(ctx context.Context, seg *catalog.Segment, work *catalog.Work) (res Result, done bool) {
	ctx = log.ContextWithSegmentToken(ctx, seg.Token)
	ctx = log.ContextWithWorkID(ctx, seg.WorkID)
	logger := log.WithContext(ctx, u.logger)
	persistCtx := context.WithoutCancel(ctx)

	ls, err := u.locker.Acquire(ctx, seg.Token, u.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, lease.ErrHeld) {
			metrics.IncLeaseConflict(lockerName(u.locker))
			logger.Info().Str(log.FieldEvent, "upload.lease_held").Msg("segment is being uploaded elsewhere")
		} else {
			logger.Error().Err(err).Str(log.FieldEvent, "upload.lease_failed").Msg("lease acquisition failed")
		}
		return ResultRetry, true
	}
	defer func() { _ = ls.Release(persistCtx) }()

	ctx, span := u.tracer.Start(ctx, "upload.segment",
		trace.WithAttributes(telemetry.SegmentAttributes(seg.Token, seg.WorkID, seg.Index, sizeOf(seg))...))
	defer span.End()

	var outcome tus.Outcome
	run := func() error {
		if _, err := u.store.Update(persistCtx, seg.Token, catalog.BeginUpload(u.cfg.MaxRetry)); err != nil {
			// Not a remote failure; keep it away from the breaker.
			outcome = tus.RetryableFailure{Reason: "begin upload", Err: err, Local: true}
			return nil
		}
		logger.Info().
			Str(log.FieldOldState, string(seg.UploadState)).
			Str(log.FieldNewState, string(catalog.StateUploading)).
			Int64(log.FieldOffset, seg.BytesAcked).
			Str(log.FieldEvent, "upload.started").
			Msg("uploading segment")
		outcome = u.client.Upload(ctx, u.job(seg, work, ls))
		if f, ok := outcome.(tus.RetryableFailure); ok {
			return f
		}
		return nil
	}

	started := time.Now()
	var breakerErr error
	if u.breaker != nil {
		breakerErr = u.breaker.Execute(run)
	} else {
		breakerErr = run()
	}
	if errors.Is(breakerErr, resilience.ErrCircuitOpen) {
		logger.Warn().Dur("retry_after", u.breaker.RetryAfter()).Str(log.FieldEvent, "upload.breaker_open").Msg("upload endpoint circuit open")
		span.SetStatus(codes.Error, "circuit open")
		return ResultRetry, true
	}
	metrics.ObserveUploadDuration(time.Since(started))

	switch o := outcome.(type) {
	case tus.Completed:
		if _, err := u.store.Update(persistCtx, seg.Token, catalog.Complete(o.At)); err != nil {
			logger.Error().Err(err).Msg("failed to persist completion")
			return ResultRetry, true
		}
		metrics.IncUploadOutcome("completed")
		span.SetAttributes(attribute.String(telemetry.UploadOutcomeKey, "completed"))
		logger.Info().
			Str(log.FieldNewState, string(catalog.StateCompleted)).
			Str(log.FieldHandle, o.Handle).
			Str(log.FieldEvent, "upload.completed").
			Msg("segment uploaded")
		return ResultSuccess, false

	case tus.Stopped:
		if _, err := u.store.Update(persistCtx, seg.Token, catalog.Release()); err != nil {
			logger.Error().Err(err).Msg("failed to release segment")
		}
		metrics.IncUploadOutcome("stopped")
		span.SetAttributes(attribute.String(telemetry.UploadOutcomeKey, "stopped"))
		logger.Info().
			Str(log.FieldNewState, string(catalog.StatePending)).
			Str(log.FieldHandle, o.Handle).
			Int64(log.FieldOffset, o.Offset).
			Str(log.FieldEvent, "upload.stopped").
			Msg("upload interrupted, progress kept")
		return ResultRetry, true

	case tus.RetryableFailure:
		span.RecordError(o)
		span.SetStatus(codes.Error, o.Reason)
		updated, err := u.store.Update(persistCtx, seg.Token, catalog.Fail())
		if err != nil {
			logger.Error().Err(err).Msg("failed to record upload failure")
			return ResultRetry, true
		}
		metrics.IncUploadOutcome("retry")
		logger.Warn().
			Err(o).
			Int(log.FieldRetryCount, updated.RetryCount).
			Str(log.FieldNewState, string(catalog.StateFailed)).
			Str(log.FieldEvent, "upload.failed").
			Msg("upload attempt failed")
		if updated.RetryCount < u.cfg.MaxRetry {
			return ResultRetry, true
		}
		metrics.IncUploadOutcome("failed")
		return ResultSuccess, false
	}
	return ResultRetry, true
}

func (u *Uploader) job(seg *catalog.Segment, work *catalog.Work, ls lease.Lease) tus.Job {
	lastRefresh := time.Now()
	job := tus.Job{
		Path:   seg.Path,
		Handle: seg.RemoteHandle,
		Acked:  seg.BytesAcked,
		Metadata: func() (tus.Metadata, error) {
			sum := ""
			if u.cfg.Checksum {
				var err error
				if sum, err = fileSHA256(seg.Path); err != nil {
					return nil, err
				}
			}
			return buildMetadata(seg, work, u.cfg.AppVersion, sum), nil
		},
		Progress: func(ctx context.Context, handle string, offset int64) error {
			ctx = context.WithoutCancel(ctx)
			if time.Since(lastRefresh) > u.cfg.LeaseTTL/3 {
				if err := ls.Refresh(ctx); err != nil {
					return err
				}
				lastRefresh = time.Now()
			}
			_, err := u.store.Update(ctx, seg.Token, catalog.RecordProgress(handle, offset))
			return err
		},
		Chunk: func(_ int64, n int) {
			metrics.IncUploadChunk("ok")
			metrics.AddUploadBytes(int64(n))
		},
	}
	if u.bw != nil {
		job.Throttle = u.bw.WaitN
	}
	return job
}

func sizeOf(seg *catalog.Segment) int64 {
	if seg.SizeBytes == nil {
		return 0
	}
	return *seg.SizeBytes
}

func lockerName(l lease.Locker) string {
	if _, ok := l.(*lease.RedisLocker); ok {
		return "redis"
	}
	return "memory"
}
