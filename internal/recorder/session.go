// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package recorder turns a frame source into a sequence of finalized,
// catalogued segment files grouped by work unit.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/segrelay/internal/capture"
	"github.com/ManuGH/segrelay/internal/catalog"
	"github.com/ManuGH/segrelay/internal/log"
	"github.com/ManuGH/segrelay/internal/media"
	"github.com/ManuGH/segrelay/internal/metrics"
)

// ErrAlreadyRecording is returned by a second concurrent Record call.
var ErrAlreadyRecording = errors.New("recorder: already recording")

// segmentLayout names segment files after their start time.
const segmentLayout = "seg_20060102_150405"

// FrameSource delivers raw frames until ctx is cancelled.
type FrameSource interface {
	Run(ctx context.Context, push func(media.Frame)) error
}

// Config configures a Session.
type Config struct {
	OutputDir       string
	SegmentInterval time.Duration
	// Capture is the template for every segment's engine. Its hooks are
	// replaced by the session.
	Capture capture.Config
}

// Session owns the work unit in progress and the recording loop.
type Session struct {
	store  catalog.Store
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu   sync.Mutex
	work *catalog.Work

	recording atomic.Bool
	current   atomic.Pointer[capture.Engine]
}

// NewSession creates a session writing segments under cfg.OutputDir.
func NewSession(store catalog.Store, cfg Config) *Session {
	return &Session{
		store:  store,
		cfg:    cfg,
		logger: log.WithComponent("recorder"),
		now:    time.Now,
	}
}

// Recording reports whether Record is running.
func (s *Session) Recording() bool { return s.recording.Load() }

type segment struct {
	token  string
	path   string
	engine *capture.Engine
	begun  time.Time
}

// Record runs src and splits its frames into segments of SegmentInterval
// until ctx is cancelled. The last segment is finalized before returning.
func (s *Session) Record(ctx context.Context, src FrameSource) error {
	if !s.recording.CompareAndSwap(false, true) {
		return ErrAlreadyRecording
	}
	defer s.recording.Store(false)
	metrics.SetRecordingActive(true)
	defer metrics.SetRecordingActive(false)

	srcCtx, cancelSrc := context.WithCancel(ctx)
	defer cancelSrc()

	cur, err := s.begin(ctx)
	if err != nil {
		return err
	}
	srcErr := make(chan error, 1)
	go func() { srcErr <- src.Run(srcCtx, s.push) }()

	stopSource := func() error {
		cancelSrc()
		err := <-srcErr
		// Cancellation and the caller's own deadline end recording cleanly.
		if errors.Is(err, context.Canceled) || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
			return nil
		}
		return err
	}

	timer := time.NewTimer(s.interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.current.Store(nil)
			s.finish(ctx, cur)
			return stopSource()

		case err := <-srcErr:
			s.current.Store(nil)
			s.finish(ctx, cur)
			if err == nil || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("frame source: %w", err)

		case <-cur.engine.Done():
			// The engine stopped by itself: a runtime capture failure.
			s.current.Store(nil)
			s.finish(ctx, cur)
			_ = stopSource()
			return fmt.Errorf("recorder: capture failed in segment %s", cur.token)

		case <-timer.C:
			next, err := s.begin(ctx)
			if err != nil {
				s.current.Store(nil)
				s.finish(ctx, cur)
				_ = stopSource()
				return err
			}
			s.finish(ctx, cur)
			cur = next
			timer.Reset(s.interval())
		}
	}
}

func (s *Session) interval() time.Duration {
	if s.cfg.SegmentInterval <= 0 {
		return 5 * time.Minute
	}
	return s.cfg.SegmentInterval
}

func (s *Session) push(f media.Frame) {
	if e := s.current.Load(); e != nil {
		e.PushFrame(f)
	}
}

// begin catalogues a new segment and starts its engine. Frames go to it once
// it is running.
func (s *Session) begin(ctx context.Context) (*segment, error) {
	started := s.now()
	seg := &catalog.Segment{
		Token:      uuid.NewString(),
		Path:       s.segmentPath(started),
		RecordedAt: started,
	}

	s.mu.Lock()
	if s.work != nil && s.work.State == catalog.WorkActive {
		idx, err := s.store.MaxIndex(ctx, s.work.ID)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("next segment index: %w", err)
		}
		idx++
		seg.WorkID = s.work.ID
		seg.Index = &idx
	}
	s.mu.Unlock()

	if err := s.store.Insert(ctx, seg); err != nil {
		return nil, fmt.Errorf("insert segment: %w", err)
	}

	ctx = log.ContextWithSegmentToken(ctx, seg.Token)
	if seg.WorkID != "" {
		ctx = log.ContextWithWorkID(ctx, seg.WorkID)
	}
	logger := log.WithContext(ctx, s.logger)

	cfg := s.cfg.Capture
	cfg.OnBegin = func(audio bool) {
		logger.Debug().Bool("audio", audio).Msg("segment engine recording")
	}
	cfg.OnError = func(msg string) {
		logger.Warn().Str("error", msg).Str(log.FieldEvent, "recorder.segment_error").Msg("segment capture failed")
	}
	cfg.OnComplete = nil
	engine := capture.New(cfg)
	if err := engine.Start(ctx, seg.Path); err != nil {
		s.discard(context.WithoutCancel(ctx), seg.Token, seg.Path, "start")
		return nil, err
	}
	s.current.Store(engine)

	logger.Info().
		Str(log.FieldPath, seg.Path).
		Str(log.FieldEvent, "recorder.segment_started").
		Msg("segment started")
	return &segment{token: seg.Token, path: seg.Path, engine: engine, begun: started}, nil
}

// segmentPath avoids clobbering a file from an earlier run in the same second.
func (s *Session) segmentPath(t time.Time) string {
	base := t.Format(segmentLayout)
	path := filepath.Join(s.cfg.OutputDir, base+".ts")
	for i := 1; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		path = filepath.Join(s.cfg.OutputDir, fmt.Sprintf("%s_%d.ts", base, i))
	}
}

// finish stops the engine and either finalizes the segment or removes it.
func (s *Session) finish(ctx context.Context, seg *segment) {
	ctx = log.ContextWithSegmentToken(context.WithoutCancel(ctx), seg.token)
	logger := log.WithContext(ctx, s.logger)

	seg.engine.Stop()
	if seg.engine.State() != capture.StateStopped {
		s.discard(ctx, seg.token, seg.path, "capture_failed")
		return
	}
	if !seg.engine.Started() {
		s.discard(ctx, seg.token, seg.path, "empty")
		return
	}
	info, err := os.Stat(seg.path)
	if err != nil {
		s.discard(ctx, seg.token, seg.path, "missing_file")
		return
	}

	durMs := seg.engine.Duration().Milliseconds()
	if _, err := s.store.Update(ctx, seg.token, catalog.Finalize(durMs, info.Size())); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "recorder.finalize_failed").Msg("failed to finalize segment")
		return
	}
	metrics.RecordSegmentFinalized(durMs)
	logger.Info().
		Str(log.FieldPath, seg.path).
		Int64("duration_ms", durMs).
		Int64("size_bytes", info.Size()).
		Str(log.FieldEvent, "recorder.segment_finalized").
		Msg("segment finalized")
}

func (s *Session) discard(ctx context.Context, token, path, reason string) {
	metrics.IncSegmentDiscarded()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Err(err).Str(log.FieldPath, path).Msg("failed to remove discarded segment file")
	}
	if err := s.store.Delete(ctx, token); err != nil && !errors.Is(err, catalog.ErrNotFound) {
		s.logger.Error().Err(err).Str(log.FieldSegmentToken, token).Msg("failed to delete discarded segment")
	}
	s.logger.Warn().
		Str(log.FieldSegmentToken, token).
		Str("reason", reason).
		Str(log.FieldEvent, "recorder.segment_discarded").
		Msg("segment discarded")
}
