// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package capture runs the capture-encode-mux engine: a video loop and an
// optional audio loop feeding one container writer.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/segrelay/internal/log"
	"github.com/ManuGH/segrelay/internal/media"
	"github.com/ManuGH/segrelay/internal/metrics"
)

const (
	DefaultStopTimeout = 2 * time.Second
	DefaultPollTimeout = 10 * time.Millisecond
)

// Config wires an Engine to its codecs, container writer and listeners.
type Config struct {
	Format        VideoFormat
	QueueCapacity int
	StopTimeout   time.Duration
	PollTimeout   time.Duration

	Video VideoEncoderFactory
	// Audio is optional; nil or a failing factory records video only.
	Audio AudioFactory
	Muxer MuxerFactory

	OnBegin    func(audioEnabled bool)
	OnError    func(msg string)
	OnComplete func(path string)
}

// Engine records one container file. It is single use: Start once, Stop once.
type Engine struct {
	cfg    Config
	queue  *Queue[media.Frame]
	logger zerolog.Logger

	state         atomic.Int32
	stopRequested atomic.Bool

	path   string
	video  Encoder
	audio  Encoder
	source AudioSource

	loopCtx    context.Context
	cancelLoop context.CancelFunc
	videoDone  chan struct{}
	audioDone  chan struct{}

	muxMu      sync.Mutex
	mux        Muxer
	muxStarted bool
	tracks     map[media.Kind]int
	expected   map[media.Kind]bool
	lastPTS    map[media.Kind]int64
	firstVideo int64
	lastVideo  int64
	haveVideo  bool

	errMu  sync.Mutex
	errMsg string

	finishOnce  sync.Once
	releaseOnce sync.Once
	done        chan struct{}

	framesQueued   atomic.Uint64
	framesShort    atomic.Uint64
	samplesWritten atomic.Uint64
	samplesEarly   atomic.Uint64
	tsBumps        atomic.Uint64
}

func New(cfg Config) *Engine {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	return &Engine{
		cfg:      cfg,
		queue:    NewQueue[media.Frame](cfg.QueueCapacity),
		logger:   log.WithComponent("capture"),
		tracks:   make(map[media.Kind]int),
		expected: map[media.Kind]bool{media.KindVideo: true},
		lastPTS:  make(map[media.Kind]int64),
		done:     make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Path returns the output file path passed to Start.
func (e *Engine) Path() string { return e.path }

// Done is closed once resources are released and listeners notified.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) setState(from, to State) bool {
	if e.state.CompareAndSwap(int32(from), int32(to)) {
		e.logger.Debug().
			Str(log.FieldOldState, from.String()).
			Str(log.FieldNewState, to.String()).
			Msg("engine state changed")
		return true
	}
	return false
}

// Start prepares the output, opens codecs and spawns the encode loops.
func (e *Engine) Start(ctx context.Context, path string) error {
	if !e.setState(StateIdle, StateStarting) {
		return ErrAlreadyStarted
	}
	e.path = path
	e.logger = log.WithContext(ctx, e.logger).With().Str(log.FieldPath, path).Logger()

	abort := func(err error) error {
		e.release()
		e.state.Store(int32(StateErrored))
		metrics.IncCaptureError("start")
		e.logger.Error().Err(err).Str(log.FieldEvent, "capture.start_failed").Msg("capture start failed")
		if e.cfg.OnError != nil {
			e.cfg.OnError(err.Error())
		}
		close(e.done)
		return err
	}

	if e.cfg.Video == nil || e.cfg.Muxer == nil {
		return abort(fmt.Errorf("%w: engine not configured", ErrNoEncoder))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return abort(fmt.Errorf("%w: %v", ErrOutputPath, err))
	}

	venc, err := e.cfg.Video(ctx, e.cfg.Format)
	if err != nil {
		if !errors.Is(err, ErrNoEncoder) {
			err = fmt.Errorf("%w: %v", ErrNoEncoder, err)
		}
		return abort(err)
	}
	e.video = venc

	mux, err := e.cfg.Muxer(path)
	if err != nil {
		return abort(fmt.Errorf("%w: %v", ErrOutputPath, err))
	}
	e.mux = mux

	if e.cfg.Audio != nil {
		src, aenc, err := e.cfg.Audio(ctx)
		if err != nil {
			e.logger.Warn().Err(err).Str(log.FieldEvent, "capture.audio_unavailable").Msg("audio init failed, recording video only")
		} else {
			e.source, e.audio = src, aenc
			e.expected[media.KindAudio] = true
		}
	}
	audioEnabled := e.audio != nil

	e.loopCtx, e.cancelLoop = context.WithCancel(context.WithoutCancel(ctx))
	e.videoDone = make(chan struct{})
	go e.videoLoop()
	if audioEnabled {
		e.audioDone = make(chan struct{})
		go e.audioLoop()
	}

	e.setState(StateStarting, StateRecording)
	e.logger.Info().
		Str(log.FieldEvent, "capture.started").
		Bool("audio", audioEnabled).
		Msg("recording began")
	if e.cfg.OnBegin != nil {
		e.cfg.OnBegin(audioEnabled)
	}

	// Stop may have raced with Start.
	if e.stopRequested.Load() {
		e.Stop()
	}
	return nil
}

// PushFrame queues a raw frame without blocking. Undersized frames are dropped.
func (e *Engine) PushFrame(f media.Frame) {
	if e.State() != StateRecording {
		return
	}
	if len(f.Data) < media.FrameSize(e.cfg.Format.Width, e.cfg.Format.Height) {
		e.framesShort.Add(1)
		metrics.IncFrameDrop("short")
		return
	}
	e.framesQueued.Add(1)
	if e.queue.Push(f) {
		metrics.IncFrameDrop("evicted")
	}
}

// Stop drains both loops, releases resources once and notifies completion.
// Calling it again, or concurrently, waits for the first call to finish.
func (e *Engine) Stop() {
	e.stopRequested.Store(true)
	switch e.State() {
	case StateIdle:
		if e.setState(StateIdle, StateStopped) {
			close(e.done)
			return
		}
	case StateStarting:
		// Start observes stopRequested once the loops are running and
		// stops the engine itself.
		<-e.done
		return
	}
	if e.setState(StateRecording, StateStopping) {
		e.finish()
	}
	<-e.done
}

// fail latches the first runtime error and shuts the engine down from a
// separate goroutine, since the caller is one of the loops being waited on.
func (e *Engine) fail(kind media.Kind, err error) {
	if e.loopCtx.Err() != nil {
		// Resources are already released; codec errors are expected.
		return
	}
	e.errMu.Lock()
	first := e.errMsg == ""
	if first {
		e.errMsg = fmt.Sprintf("%s: %v", kind, err)
	}
	e.errMu.Unlock()
	if !first {
		return
	}
	metrics.IncCaptureError(kind.String())
	e.logger.Error().Err(err).Str(log.FieldTrack, kind.String()).Str(log.FieldEvent, "capture.runtime_error").Msg("encode loop failed")
	e.stopRequested.Store(true)
	if e.setState(StateRecording, StateStopping) {
		go e.finish()
	}
}

func (e *Engine) latched() string {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.errMsg
}

func (e *Engine) finish() {
	e.finishOnce.Do(func() {
		timedOut := !waitFor(e.videoDone, e.cfg.StopTimeout)
		if e.audioDone != nil && !waitFor(e.audioDone, e.cfg.StopTimeout) {
			timedOut = true
		}
		if timedOut {
			e.logger.Warn().Str(log.FieldEvent, "capture.stop_timeout").Msg("encode loop did not exit in time")
		}
		e.cancelLoop()
		e.release()

		if msg := e.latched(); msg != "" {
			e.state.Store(int32(StateErrored))
			if e.cfg.OnError != nil {
				e.cfg.OnError(msg)
			}
		} else {
			e.state.Store(int32(StateStopped))
			e.logger.Info().
				Str(log.FieldEvent, "capture.completed").
				Dur("duration", e.Duration()).
				Uint64("samples", e.samplesWritten.Load()).
				Msg("recording complete")
			if e.cfg.OnComplete != nil {
				e.cfg.OnComplete(e.path)
			}
		}
		close(e.done)
	})
}

func waitFor(ch <-chan struct{}, d time.Duration) bool {
	if ch == nil {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

// release closes codecs, the audio device and the container writer exactly once.
func (e *Engine) release() {
	e.releaseOnce.Do(func() {
		if e.video != nil {
			if err := e.video.Close(); err != nil {
				e.logger.Debug().Err(err).Msg("video encoder close")
			}
		}
		if e.audio != nil {
			if err := e.audio.Close(); err != nil {
				e.logger.Debug().Err(err).Msg("audio encoder close")
			}
		}
		if e.source != nil {
			if err := e.source.Close(); err != nil {
				e.logger.Debug().Err(err).Msg("audio source close")
			}
		}

		e.muxMu.Lock()
		defer e.muxMu.Unlock()
		if e.mux != nil {
			if err := e.mux.Close(); err != nil {
				e.errMu.Lock()
				if e.errMsg == "" {
					e.errMsg = fmt.Sprintf("container: %v", err)
				}
				e.errMu.Unlock()
			}
			e.mux = nil
		}
	})
}

func (e *Engine) videoLoop() {
	defer close(e.videoDone)
	inputDone := false
	for {
		if e.loopCtx.Err() != nil {
			return
		}
		if !inputDone {
			frame, ok := e.queue.Poll(e.loopCtx, e.cfg.PollTimeout)
			switch {
			case ok:
				if err := e.video.Submit(frame.Data, frame.PTS); err != nil {
					e.fail(media.KindVideo, err)
					return
				}
			case e.stopRequested.Load() && e.queue.Len() == 0:
				if err := e.video.SignalEOS(); err != nil {
					e.fail(media.KindVideo, err)
					return
				}
				inputDone = true
			}
		}
		if eos := e.drain(media.KindVideo, e.video, inputDone); eos {
			return
		}
	}
}

func (e *Engine) audioLoop() {
	defer close(e.audioDone)
	inputDone := false
	for {
		if e.loopCtx.Err() != nil {
			return
		}
		switch {
		case inputDone:
		case e.stopRequested.Load():
			// The device never runs dry, so stop is checked before reading.
			if err := e.audio.SignalEOS(); err != nil {
				e.degradeAudio(err)
				return
			}
			inputDone = true
		default:
			pcm, pts, ok, err := e.source.Read(e.cfg.PollTimeout)
			if err != nil {
				e.degradeAudio(err)
				return
			}
			if ok {
				if err := e.audio.Submit(pcm, pts); err != nil {
					e.degradeAudio(err)
					return
				}
			}
		}
		if eos := e.drain(media.KindAudio, e.audio, inputDone); eos {
			return
		}
	}
}

// degradeAudio stops the audio track without failing the recording. If the
// track never registered, the writer no longer waits for it.
func (e *Engine) degradeAudio(err error) {
	if e.loopCtx.Err() != nil {
		return
	}
	metrics.IncCaptureError("audio")
	e.logger.Warn().Err(err).Str(log.FieldEvent, "capture.audio_degraded").Msg("audio failed, continuing video only")

	e.muxMu.Lock()
	defer e.muxMu.Unlock()
	if _, registered := e.tracks[media.KindAudio]; !registered {
		delete(e.expected, media.KindAudio)
		if err := e.maybeStartLocked(); err != nil {
			e.fail(media.KindVideo, err)
		}
	}
}

// drain writes all available encoder output. When blocking is set (input is
// finished) it waits the poll timeout for more output. It reports whether
// the encoder emitted EOS.
func (e *Engine) drain(kind media.Kind, enc Encoder, blocking bool) bool {
	timeout := time.Duration(0)
	if blocking {
		timeout = e.cfg.PollTimeout
	}
	for {
		pkt, ok, err := enc.Poll(timeout)
		if err != nil {
			if kind == media.KindAudio {
				e.degradeAudio(err)
			} else {
				e.fail(kind, err)
			}
			return true
		}
		if !ok {
			return false
		}
		if pkt.EOS {
			return true
		}
		if err := e.handlePacket(kind, pkt); err != nil {
			e.fail(kind, err)
			return true
		}
	}
}

func (e *Engine) handlePacket(kind media.Kind, pkt media.Packet) error {
	e.muxMu.Lock()
	defer e.muxMu.Unlock()
	if e.mux == nil {
		return nil
	}

	if pkt.IsConfig() {
		if _, ok := e.tracks[kind]; ok {
			return nil
		}
		f := *pkt.Format
		f.Kind = kind
		idx, err := e.mux.AddTrack(f)
		if err != nil {
			return fmt.Errorf("add %s track: %w", kind, err)
		}
		e.tracks[kind] = idx
		e.logger.Debug().Str(log.FieldTrack, kind.String()).Str("codec", f.Codec).Msg("track registered")
		return e.maybeStartLocked()
	}

	if !e.muxStarted {
		e.samplesEarly.Add(1)
		metrics.IncFrameDrop("early")
		return nil
	}

	last, seen := e.lastPTS[kind]
	if seen {
		var bumped bool
		pkt.PTS, bumped = monotonic(last, pkt.PTS)
		if bumped {
			e.tsBumps.Add(1)
		}
	}
	if err := e.mux.WriteSample(e.tracks[kind], pkt); err != nil {
		return fmt.Errorf("write %s sample: %w", kind, err)
	}
	e.lastPTS[kind] = pkt.PTS
	e.samplesWritten.Add(1)
	metrics.IncSamplesWritten(kind.String())

	if kind == media.KindVideo {
		if !e.haveVideo {
			e.firstVideo, e.haveVideo = pkt.PTS, true
		}
		e.lastVideo = pkt.PTS
	}
	return nil
}

// maybeStartLocked starts the writer once every expected track registered.
func (e *Engine) maybeStartLocked() error {
	if e.muxStarted || e.mux == nil {
		return nil
	}
	for k := range e.expected {
		if _, ok := e.tracks[k]; !ok {
			return nil
		}
	}
	if err := e.mux.Start(); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	e.muxStarted = true
	e.logger.Debug().Int("tracks", len(e.tracks)).Msg("container started")
	return nil
}

// Duration is the span of written video timestamps plus one frame interval.
func (e *Engine) Duration() time.Duration {
	e.muxMu.Lock()
	defer e.muxMu.Unlock()
	if !e.haveVideo {
		return 0
	}
	span := time.Duration(e.lastVideo-e.firstVideo) * time.Microsecond
	if e.cfg.Format.FPS > 0 {
		span += time.Second / time.Duration(e.cfg.Format.FPS)
	}
	return span
}

// Started reports whether the container writer received its tracks.
func (e *Engine) Started() bool {
	e.muxMu.Lock()
	defer e.muxMu.Unlock()
	return e.muxStarted
}

func (e *Engine) Stats() Stats {
	return Stats{
		FramesQueued:   e.framesQueued.Load(),
		FramesEvicted:  e.queue.Evicted(),
		FramesShort:    e.framesShort.Load(),
		SamplesWritten: e.samplesWritten.Load(),
		SamplesEarly:   e.samplesEarly.Load(),
		TimestampBumps: e.tsBumps.Load(),
	}
}
