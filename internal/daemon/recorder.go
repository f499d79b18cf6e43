// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"github.com/ManuGH/segrelay/internal/capture"
	"github.com/ManuGH/segrelay/internal/catalog"
	"github.com/ManuGH/segrelay/internal/config"
	"github.com/ManuGH/segrelay/internal/media/ffmpeg"
	"github.com/ManuGH/segrelay/internal/media/tsmux"
	"github.com/ManuGH/segrelay/internal/recorder"
)

// NewRecorder builds a recording session backed by ffmpeg capture and
// encoding and the MPEG-TS muxer, plus the V4L2 frame source feeding it.
func NewRecorder(cfg config.AppConfig, store catalog.Store) (*recorder.Session, recorder.FrameSource) {
	opts := ffmpeg.Options{
		Binary:      cfg.Capture.FFmpegBin,
		Encoders:    cfg.Capture.Encoders,
		VAAPIDevice: cfg.Capture.VAAPIDevice,
	}
	format := capture.VideoFormat{
		Width:  cfg.Capture.Width,
		Height: cfg.Capture.Height,
		FPS:    cfg.Capture.FPS,
	}

	var audio capture.AudioFactory
	if cfg.Capture.AudioDevice != "" {
		audio = ffmpeg.AudioFactory(opts, cfg.Capture.AudioDevice)
	}

	session := recorder.NewSession(store, recorder.Config{
		OutputDir:       cfg.Capture.OutputDir,
		SegmentInterval: cfg.Capture.SegmentInterval,
		Capture: capture.Config{
			Format:      format,
			StopTimeout: cfg.Capture.StopTimeout,
			Video:       ffmpeg.VideoFactory(opts),
			Audio:       audio,
			Muxer:       newTSMuxer,
		},
	})
	src := &ffmpeg.V4L2Source{Options: opts, Device: cfg.Capture.Device, Format: format}
	return session, src
}

func newTSMuxer(path string) (capture.Muxer, error) {
	w, err := tsmux.Create(path)
	if err != nil {
		return nil, err
	}
	return w, nil
}
