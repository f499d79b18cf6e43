// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

// Options configures ffmpeg based capture and encoding.
type Options struct {
	Binary string
	// Encoders overrides HEVCEncoders preference order.
	Encoders    []string
	VAAPIDevice string
	// PixelFormat of raw frames: nv21 (default) or nv12.
	PixelFormat string
}

func (o Options) vaapiDevice() string {
	if o.VAAPIDevice == "" {
		return DefaultVAAPIDevice
	}
	return o.VAAPIDevice
}

func (o Options) pixelFormat() string {
	if o.PixelFormat == "" {
		return "nv21"
	}
	return o.PixelFormat
}
