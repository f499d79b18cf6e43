// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/segrelay/internal/capture"
	"github.com/ManuGH/segrelay/internal/log"
	"github.com/ManuGH/segrelay/internal/media"
	"github.com/ManuGH/segrelay/internal/media/ffmpeg/watchdog"
	"github.com/ManuGH/segrelay/internal/metrics"
)

const (
	DefaultStartTimeout = 10 * time.Second
	DefaultStallTimeout = 5 * time.Second
)

// V4L2Source reads raw frames from a Video4Linux device through ffmpeg.
type V4L2Source struct {
	Options Options
	Device  string
	Format  capture.VideoFormat
	// StartTimeout and StallTimeout bound the wait for the first and for
	// every following frame. Zero uses the defaults.
	StartTimeout time.Duration
	StallTimeout time.Duration
}

func (s *V4L2Source) args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "v4l2",
		"-framerate", strconv.Itoa(s.Format.FPS),
		"-video_size", fmt.Sprintf("%dx%d", s.Format.Width, s.Format.Height),
		"-i", s.Device,
		"-f", "rawvideo",
		"-pix_fmt", s.Options.pixelFormat(),
		"pipe:1",
	}
}

// Run delivers frames to push until ctx is cancelled or the device fails.
// A device that stops delivering frames fails with watchdog.ErrStalled.
// Timestamps are microseconds since the first frame.
func (s *V4L2Source) Run(ctx context.Context, push func(media.Frame)) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	proc, err := startProcess(runCtx, "v4l2_source", s.Options.Binary, s.args(), false)
	if err != nil {
		return err
	}
	defer func() { _ = proc.stop() }()

	stop := context.AfterFunc(runCtx, func() { _ = proc.stop() })
	defer stop()

	wd := watchdog.New(orDefault(s.StartTimeout, DefaultStartTimeout), orDefault(s.StallTimeout, DefaultStallTimeout))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := wd.Run(runCtx); err != nil {
			metrics.IncCaptureError("stall")
			cancel(err)
		}
	}()
	defer wg.Wait()
	defer cancel(nil)

	size := media.FrameSize(s.Format.Width, s.Format.Height)
	var start time.Time
	for {
		buf := make([]byte, size)
		if _, err := io.ReadFull(proc.stdout, buf); err != nil {
			if cause := context.Cause(runCtx); cause != nil {
				if errors.Is(cause, watchdog.ErrStartTimeout) || errors.Is(cause, watchdog.ErrStalled) {
					return fmt.Errorf("v4l2 %s: %w", s.Device, cause)
				}
				return ctx.Err()
			}
			return fmt.Errorf("v4l2 %s: %w (%s)", s.Device, err, proc.ring.Tail(5))
		}
		wd.Beat()
		now := time.Now()
		if start.IsZero() {
			start = now
		}
		push(media.Frame{
			Data:   buf,
			Width:  s.Format.Width,
			Height: s.Format.Height,
			PTS:    now.Sub(start).Microseconds(),
		})
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// pcmChunkBytes is one AAC frame worth of s16le mono samples.
const pcmChunkBytes = 1024 * 2 * media.AudioChannels

type pcmChunk struct {
	data []byte
	pts  int64
}

// ALSASource is a capture.AudioSource reading PCM from an ALSA device.
type ALSASource struct {
	proc    *process
	chunks  chan pcmChunk
	err     atomic.Value
	dropped atomic.Uint64
	done    chan struct{}
	once    sync.Once
}

func alsaArgs(device string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "alsa",
		"-ac", strconv.Itoa(media.AudioChannels),
		"-ar", strconv.Itoa(media.AudioSampleRate),
		"-i", device,
		"-f", "s16le",
		"pipe:1",
	}
}

func OpenALSA(ctx context.Context, opts Options, device string) (*ALSASource, error) {
	proc, err := startProcess(ctx, "alsa_source", opts.Binary, alsaArgs(device), false)
	if err != nil {
		return nil, err
	}
	s := &ALSASource{
		proc:   proc,
		chunks: make(chan pcmChunk, 64),
		done:   make(chan struct{}),
	}
	go s.read()
	return s, nil
}

func (s *ALSASource) read() {
	defer close(s.done)
	var samples int64
	for {
		buf := make([]byte, pcmChunkBytes)
		if _, err := io.ReadFull(s.proc.stdout, buf); err != nil {
			s.err.Store(fmt.Errorf("alsa: %w (%s)", err, s.proc.ring.Tail(5)))
			return
		}
		pts := samples * int64(time.Second/time.Microsecond) / media.AudioSampleRate
		samples += int64(len(buf) / 2 / media.AudioChannels)
		select {
		case s.chunks <- pcmChunk{data: buf, pts: pts}:
		default:
			s.dropped.Add(1)
			metrics.IncFrameDrop("audio_overrun")
		}
	}
}

func (s *ALSASource) Read(timeout time.Duration) ([]byte, int64, bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case c := <-s.chunks:
		return c.data, c.pts, true, nil
	case <-s.done:
		select {
		case c := <-s.chunks:
			return c.data, c.pts, true, nil
		default:
		}
		if err, ok := s.err.Load().(error); ok {
			return nil, 0, false, err
		}
		return nil, 0, false, errors.New("alsa: source closed")
	case <-t.C:
		return nil, 0, false, nil
	}
}

func (s *ALSASource) Close() error {
	var err error
	s.once.Do(func() {
		err = s.proc.stop()
		<-s.done
		if n := s.dropped.Load(); n > 0 {
			s.proc.logger.Warn().Uint64("dropped_chunks", n).Str(log.FieldEvent, "capture.audio_overrun").Msg("audio chunks dropped")
		}
	})
	return err
}
