// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/segrelay/internal/media"
)

var (
	ErrNoEncoder      = errors.New("capture: no hardware video encoder available")
	ErrOutputPath     = errors.New("capture: output location not usable")
	ErrAlreadyStarted = errors.New("capture: engine already started")
)

// Encoder turns raw input into compressed packets. Poll must return within
// the given timeout; Close may be called concurrently with Poll.
type Encoder interface {
	Submit(data []byte, pts int64) error
	SignalEOS() error
	Poll(timeout time.Duration) (media.Packet, bool, error)
	Close() error
}

// Muxer is a container writer. Tracks are registered before Start; samples
// must carry strictly increasing timestamps per track.
type Muxer interface {
	AddTrack(f media.TrackFormat) (int, error)
	Start() error
	WriteSample(track int, pkt media.Packet) error
	Close() error
}

// AudioSource delivers raw PCM (s16le, 44.1 kHz mono).
type AudioSource interface {
	// Read waits up to timeout for samples; ok is false when none arrived.
	Read(timeout time.Duration) (pcm []byte, pts int64, ok bool, err error)
	Close() error
}

// VideoFormat describes the raw input of the video encoder.
type VideoFormat struct {
	Width  int
	Height int
	FPS    int
}

type (
	VideoEncoderFactory func(ctx context.Context, f VideoFormat) (Encoder, error)
	// AudioFactory opens the capture device and its encoder together.
	AudioFactory func(ctx context.Context) (AudioSource, Encoder, error)
	MuxerFactory func(path string) (Muxer, error)
)

// State is the engine lifecycle.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRecording
	StateStopping
	StateStopped
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// Stats are engine counters, safe to read at any time.
type Stats struct {
	FramesQueued   uint64
	FramesEvicted  uint64
	FramesShort    uint64
	SamplesWritten uint64
	SamplesEarly   uint64
	TimestampBumps uint64
}

// monotonic forces ts strictly above last.
func monotonic(last, ts int64) (int64, bool) {
	if ts <= last {
		return last + 1, true
	}
	return ts, false
}
