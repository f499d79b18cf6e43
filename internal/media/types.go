// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media defines the frame, packet and track types exchanged between
// capture sources, encoders and container writers.
package media

// Kind identifies an elementary stream.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	}
	return "unknown"
}

// Codec names used in TrackFormat.
const (
	CodecHEVC = "hevc"
	CodecAAC  = "aac"
)

// Raw audio parameters shared by sources and the AAC encoder.
const (
	AudioSampleRate = 44100
	AudioChannels   = 1
	AudioBitrate    = 64000
)

// Frame is one raw video picture in NV21/NV12 layout.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	// PTS in microseconds.
	PTS int64
}

// FrameSize returns the byte size of a 4:2:0 semi-planar picture.
func FrameSize(width, height int) int {
	return width * height * 3 / 2
}

// TrackFormat describes a track to the container writer.
type TrackFormat struct {
	Kind       Kind
	Codec      string
	Config     []byte // codec parameter sets (VPS/SPS/PPS, AudioSpecificConfig)
	Width      int
	Height     int
	SampleRate int
	Channels   int
}

// Packet is one unit of encoder output.
type Packet struct {
	Data []byte
	// PTS in microseconds.
	PTS int64
	Key bool
	// Format is set on configuration-only output and carries no sample data.
	Format *TrackFormat
	// EOS marks the end of the encoder's output.
	EOS bool
}

// IsConfig reports whether the packet only carries codec configuration.
func (p Packet) IsConfig() bool { return p.Format != nil }
