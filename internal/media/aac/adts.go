// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package aac parses and builds ADTS framing and AudioSpecificConfig.
package aac

import (
	"errors"
	"fmt"
)

// ObjectTypeLC is the AAC-LC audio object type.
const ObjectTypeLC = 2

// SamplesPerFrame is the AAC frame length in PCM samples.
const SamplesPerFrame = 1024

var ErrInvalidHeader = errors.New("aac: invalid ADTS header")

var sampleRates = []int{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350}

// SampleRateIndex returns the sampling_frequency_index for rate, or -1.
func SampleRateIndex(rate int) int {
	for i, r := range sampleRates {
		if r == rate {
			return i
		}
	}
	return -1
}

// Config is the decoded AudioSpecificConfig.
type Config struct {
	ObjectType int
	SampleRate int
	Channels   int
}

// Marshal encodes the two-byte AudioSpecificConfig.
func (c Config) Marshal() ([]byte, error) {
	idx := SampleRateIndex(c.SampleRate)
	if idx < 0 {
		return nil, fmt.Errorf("aac: unsupported sample rate %d", c.SampleRate)
	}
	if c.ObjectType <= 0 || c.ObjectType > 31 || c.Channels <= 0 || c.Channels > 7 {
		return nil, fmt.Errorf("aac: unsupported config %+v", c)
	}
	v := uint16(c.ObjectType)<<11 | uint16(idx)<<7 | uint16(c.Channels)<<3
	return []byte{byte(v >> 8), byte(v)}, nil
}

// ParseConfig decodes a two-byte AudioSpecificConfig.
func ParseConfig(asc []byte) (Config, error) {
	if len(asc) < 2 {
		return Config{}, fmt.Errorf("aac: short AudioSpecificConfig")
	}
	v := uint16(asc[0])<<8 | uint16(asc[1])
	idx := int(v>>7) & 0x0F
	if idx >= len(sampleRates) {
		return Config{}, fmt.Errorf("aac: sample rate index %d", idx)
	}
	return Config{
		ObjectType: int(v >> 11),
		SampleRate: sampleRates[idx],
		Channels:   int(v>>3) & 0x0F,
	}, nil
}

// Header is a parsed ADTS header.
type Header struct {
	Config       Config
	FrameLength  int // header plus payload
	HeaderLength int
}

// ParseHeader decodes the ADTS header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < 7 || b[0] != 0xFF || b[1]&0xF0 != 0xF0 {
		return Header{}, ErrInvalidHeader
	}
	protectionAbsent := b[1]&0x01 == 1
	profile := int(b[2]>>6) & 0x03
	idx := int(b[2]>>2) & 0x0F
	if idx >= len(sampleRates) {
		return Header{}, ErrInvalidHeader
	}
	channels := int(b[2]&0x01)<<2 | int(b[3]>>6)
	frameLen := int(b[3]&0x03)<<11 | int(b[4])<<3 | int(b[5]>>5)
	hdrLen := 7
	if !protectionAbsent {
		hdrLen = 9
	}
	if frameLen < hdrLen {
		return Header{}, ErrInvalidHeader
	}
	return Header{
		Config:       Config{ObjectType: profile + 1, SampleRate: sampleRates[idx], Channels: channels},
		FrameLength:  frameLen,
		HeaderLength: hdrLen,
	}, nil
}

// BuildHeader returns a 7-byte ADTS header (no CRC) for a raw payload.
func BuildHeader(c Config, payloadLen int) ([]byte, error) {
	idx := SampleRateIndex(c.SampleRate)
	if idx < 0 {
		return nil, fmt.Errorf("aac: unsupported sample rate %d", c.SampleRate)
	}
	frameLen := payloadLen + 7
	if frameLen > 0x1FFF {
		return nil, fmt.Errorf("aac: frame too large (%d bytes)", frameLen)
	}
	profile := byte(c.ObjectType-1) & 0x03
	ch := byte(c.Channels)
	return []byte{
		0xFF,
		0xF1,
		profile<<6 | byte(idx)<<2 | (ch>>2)&0x01,
		(ch&0x03)<<6 | byte(frameLen>>11)&0x03,
		byte(frameLen >> 3),
		byte(frameLen&0x07)<<5 | 0x1F,
		0xFC,
	}, nil
}

// Frame is one raw AAC access unit with its stream configuration.
type Frame struct {
	Config  Config
	Payload []byte
}

// Reader extracts ADTS frames from an arbitrarily chunked byte stream.
type Reader struct {
	buf []byte
}

// Write consumes stream bytes and returns the frames completed by them.
// Bytes before a sync word are skipped.
func (r *Reader) Write(p []byte) []Frame {
	r.buf = append(r.buf, p...)
	var out []Frame
	for {
		// Resync on 0xFFF.
		i := 0
		for i+1 < len(r.buf) && !(r.buf[i] == 0xFF && r.buf[i+1]&0xF0 == 0xF0) {
			i++
		}
		r.buf = r.buf[i:]
		if len(r.buf) < 7 {
			return out
		}
		h, err := ParseHeader(r.buf)
		if err != nil {
			r.buf = r.buf[1:]
			continue
		}
		if len(r.buf) < h.FrameLength {
			return out
		}
		out = append(out, Frame{
			Config:  h.Config,
			Payload: append([]byte(nil), r.buf[h.HeaderLength:h.FrameLength]...),
		})
		r.buf = r.buf[h.FrameLength:]
	}
}
