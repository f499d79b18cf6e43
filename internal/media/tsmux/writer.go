// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tsmux writes HEVC and AAC elementary streams into an MPEG transport
// stream. Files are written to a pending location and only appear at their
// final path once Close succeeds.
package tsmux

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/ManuGH/segrelay/internal/media"
	"github.com/ManuGH/segrelay/internal/media/aac"
	"github.com/ManuGH/segrelay/internal/media/hevc"
)

const (
	packetSize  = 188
	payloadSize = packetSize - 4

	pidPAT   = 0x0000
	pidPMT   = 0x1000
	pidVideo = 0x0100
	pidAudio = 0x0101

	streamTypeHEVC = 0x24
	streamTypeADTS = 0x0F

	streamIDVideo = 0xE0
	streamIDAudio = 0xC0

	// ptsOffset keeps PTS ahead of PCR (1s at 90 kHz).
	ptsOffset = 90000
	ptsMask   = 1<<33 - 1
)

var (
	ErrNotStarted     = errors.New("tsmux: writer not started")
	ErrAlreadyStarted = errors.New("tsmux: writer already started")
	ErrClosed         = errors.New("tsmux: writer closed")
)

type sink interface {
	io.Writer
	Commit() error
	Abort() error
}

type track struct {
	format     media.TrackFormat
	pid        uint16
	streamType byte
	streamID   byte
	asc        aac.Config
	lastPTS    uint64
	hasPTS     bool
}

// Writer is a transport stream muxer. It is not safe for concurrent use.
type Writer struct {
	sink    sink
	bw      *bufio.Writer
	tracks  []*track
	cc      map[uint16]byte
	started bool
	closed  bool
	pcrPID  uint16
	written int64
	pkt     [packetSize]byte
}

// Create opens a writer whose output replaces path atomically on Close.
func Create(path string) (*Writer, error) {
	s, err := openSink(path)
	if err != nil {
		return nil, fmt.Errorf("tsmux: open %s: %w", path, err)
	}
	return newWriter(s), nil
}

// NewWriter writes to w. Close flushes but does not close w.
func NewWriter(w io.Writer) *Writer {
	return newWriter(writerSink{w})
}

type writerSink struct{ io.Writer }

func (writerSink) Commit() error { return nil }
func (writerSink) Abort() error  { return nil }

func newWriter(s sink) *Writer {
	return &Writer{
		sink: s,
		bw:   bufio.NewWriterSize(s, 64*packetSize),
		cc:   make(map[uint16]byte),
	}
}

// AddTrack registers a track before Start. One video (HEVC) and one audio
// (AAC) track are supported.
func (w *Writer) AddTrack(f media.TrackFormat) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if w.started {
		return 0, ErrAlreadyStarted
	}
	t := &track{format: f}
	switch f.Kind {
	case media.KindVideo:
		if f.Codec != media.CodecHEVC {
			return 0, fmt.Errorf("tsmux: unsupported video codec %q", f.Codec)
		}
		t.pid, t.streamType, t.streamID = pidVideo, streamTypeHEVC, streamIDVideo
	case media.KindAudio:
		if f.Codec != media.CodecAAC {
			return 0, fmt.Errorf("tsmux: unsupported audio codec %q", f.Codec)
		}
		asc, err := aac.ParseConfig(f.Config)
		if err != nil {
			return 0, fmt.Errorf("tsmux: audio config: %w", err)
		}
		t.asc = asc
		t.pid, t.streamType, t.streamID = pidAudio, streamTypeADTS, streamIDAudio
	default:
		return 0, fmt.Errorf("tsmux: unsupported track kind %v", f.Kind)
	}
	for _, existing := range w.tracks {
		if existing.pid == t.pid {
			return 0, fmt.Errorf("tsmux: duplicate %s track", f.Kind)
		}
	}
	w.tracks = append(w.tracks, t)
	return len(w.tracks) - 1, nil
}

// Start writes the program tables. At least one track must be registered.
func (w *Writer) Start() error {
	if w.closed {
		return ErrClosed
	}
	if w.started {
		return ErrAlreadyStarted
	}
	if len(w.tracks) == 0 {
		return fmt.Errorf("tsmux: no tracks")
	}
	w.pcrPID = w.tracks[0].pid
	for _, t := range w.tracks {
		if t.format.Kind == media.KindVideo {
			w.pcrPID = t.pid
		}
	}
	w.started = true
	return w.writeTables()
}

// WriteSample writes one access unit. Video data is Annex-B; audio data is a
// raw AAC frame. PTS is in microseconds.
func (w *Writer) WriteSample(idx int, pkt media.Packet) error {
	if w.closed {
		return ErrClosed
	}
	if !w.started {
		return ErrNotStarted
	}
	if idx < 0 || idx >= len(w.tracks) {
		return fmt.Errorf("tsmux: unknown track %d", idx)
	}
	t := w.tracks[idx]

	var payload []byte
	switch t.format.Kind {
	case media.KindVideo:
		payload = videoPayload(t.format.Config, pkt)
		if pkt.Key {
			// Repeat tables so playback can start at any keyframe.
			if err := w.writeTables(); err != nil {
				return err
			}
		}
	case media.KindAudio:
		hdr, err := aac.BuildHeader(t.asc, len(pkt.Data))
		if err != nil {
			return err
		}
		payload = append(hdr, pkt.Data...)
	}

	// Microsecond timestamps can collide after conversion to 90 kHz ticks.
	pts := usTo90k(pkt.PTS)
	if t.hasPTS && pts <= t.lastPTS {
		pts = t.lastPTS + 1
	}
	t.lastPTS, t.hasPTS = pts, true
	pes := buildPES(t.streamID, (pts+ptsOffset)&ptsMask, payload, t.format.Kind == media.KindVideo)

	var pcr *uint64
	if t.pid == w.pcrPID {
		pcr = &pts
	}
	return w.writePES(t.pid, pes, pcr, pkt.Key)
}

// videoPayload prepends an access unit delimiter and, on keyframes lacking
// them, the parameter sets.
func videoPayload(config []byte, pkt media.Packet) []byte {
	data := pkt.Data
	out := make([]byte, 0, len(hevc.AUD)+len(config)+len(data))
	nals := hevc.Split(data)
	if len(nals) == 0 || hevc.Type(nals[0]) != hevc.NALAUD {
		out = append(out, hevc.AUD...)
	}
	if pkt.Key && len(config) > 0 && !hevc.Contains(data, hevc.NALVPS) {
		if len(nals) > 0 && hevc.Type(nals[0]) == hevc.NALAUD {
			// Parameter sets must follow the delimiter.
			out = append(out, hevc.Join(nals[0])...)
			out = append(out, config...)
			return append(out, hevc.Join(nals[1:]...)...)
		}
		out = append(out, config...)
	}
	return append(out, data...)
}

func usTo90k(us int64) uint64 {
	if us < 0 {
		us = 0
	}
	return uint64(us) * 9 / 100 & ptsMask
}

func buildPES(streamID byte, pts uint64, payload []byte, unbounded bool) []byte {
	const headerLen = 14
	pes := make([]byte, headerLen, headerLen+len(payload))
	pes[0], pes[1], pes[2], pes[3] = 0x00, 0x00, 0x01, streamID
	length := 3 + 5 + len(payload)
	if unbounded || length > 0xFFFF {
		length = 0
	}
	pes[4], pes[5] = byte(length>>8), byte(length)
	pes[6] = 0x80 // marker bits '10'
	pes[7] = 0x80 // PTS only
	pes[8] = 5
	putTimestamp(pes[9:14], 0x20, pts)
	return append(pes, payload...)
}

// putTimestamp encodes a 33-bit PTS with its 4-bit prefix and marker bits.
func putTimestamp(b []byte, prefix byte, ts uint64) {
	b[0] = prefix | byte(ts>>29)&0x0E | 0x01
	b[1] = byte(ts >> 22)
	b[2] = byte(ts>>14)&0xFE | 0x01
	b[3] = byte(ts >> 7)
	b[4] = byte(ts<<1)&0xFE | 0x01
}

func (w *Writer) nextCC(pid uint16) byte {
	cc := w.cc[pid]
	w.cc[pid] = (cc + 1) & 0x0F
	return cc
}

// writePES splits a PES packet into transport packets. The first packet
// carries PCR and the random access flag when requested.
func (w *Writer) writePES(pid uint16, pes []byte, pcr *uint64, key bool) error {
	first := true
	for len(pes) > 0 {
		var af []byte
		if first && (pcr != nil || key) {
			flags := byte(0)
			if key {
				flags |= 0x40
			}
			af = append(af, flags)
			if pcr != nil {
				af[0] |= 0x10
				base := *pcr
				af = append(af,
					byte(base>>25), byte(base>>17), byte(base>>9), byte(base>>1),
					byte(base<<7)|0x7E, 0x00)
			}
		}

		n, err := w.writePacket(pid, first, af, pes)
		if err != nil {
			return err
		}
		pes = pes[n:]
		first = false
	}
	return nil
}

// writePacket emits one transport packet carrying as much of payload as fits,
// padding the adaptation field with stuffing. af holds adaptation field
// content after the length byte. It returns the payload bytes consumed.
func (w *Writer) writePacket(pid uint16, pusi bool, af []byte, payload []byte) (int, error) {
	p := w.pkt[:]
	p[0] = 0x47
	p[1] = byte(pid>>8) & 0x1F
	if pusi {
		p[1] |= 0x40
	}
	p[2] = byte(pid)

	afBytes := 0
	if af != nil {
		afBytes = 1 + len(af)
	}
	space := payloadSize - afBytes
	n := len(payload)
	if n > space {
		n = space
	}
	stuff := space - n
	if stuff > 0 {
		switch {
		case af != nil:
		case stuff == 1:
			af = []byte{}
		default:
			af = []byte{0x00}
			stuff--
		}
		if af != nil && afBytes == 0 {
			stuff--
		}
		for i := 0; i < stuff; i++ {
			af = append(af, 0xFF)
		}
	}

	pos := 4
	if af != nil {
		p[3] = 0x30 | w.nextCC(pid)
		p[4] = byte(len(af))
		copy(p[5:], af)
		pos = 5 + len(af)
	} else {
		p[3] = 0x10 | w.nextCC(pid)
	}
	copy(p[pos:], payload[:n])
	if pos+n != packetSize {
		return 0, fmt.Errorf("tsmux: packet layout %d+%d", pos, n)
	}
	if _, err := w.bw.Write(p); err != nil {
		return 0, err
	}
	w.written += packetSize
	return n, nil
}

func (w *Writer) writeTables() error {
	pat := []byte{
		0x00,       // table_id
		0xB0, 0x0D, // section_syntax_indicator, section_length 13
		0x00, 0x01, // transport_stream_id
		0xC1,       // version 0, current
		0x00, 0x00, // section numbers
		0x00, 0x01, // program_number 1
		0xE0 | byte(pidPMT>>8), byte(pidPMT & 0xFF),
	}
	if err := w.writeSection(pidPAT, pat); err != nil {
		return err
	}

	sectionLen := 9 + 5*len(w.tracks) + 4
	pmt := []byte{
		0x02,
		0xB0 | byte(sectionLen>>8)&0x0F, byte(sectionLen),
		0x00, 0x01, // program_number
		0xC1,
		0x00, 0x00,
		0xE0 | byte(w.pcrPID>>8), byte(w.pcrPID),
		0xF0, 0x00, // program_info_length 0
	}
	for _, t := range w.tracks {
		pmt = append(pmt, t.streamType, 0xE0|byte(t.pid>>8), byte(t.pid), 0xF0, 0x00)
	}
	return w.writeSection(pidPMT, pmt)
}

// writeSection writes a PSI section with CRC in a single packet.
func (w *Writer) writeSection(pid uint16, section []byte) error {
	crc := crc32MPEG2(section)
	section = append(section, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))

	p := w.pkt[:]
	p[0] = 0x47
	p[1] = 0x40 | byte(pid>>8)&0x1F
	p[2] = byte(pid)
	p[3] = 0x10 | w.nextCC(pid)
	p[4] = 0x00 // pointer_field
	n := copy(p[5:], section)
	for i := 5 + n; i < packetSize; i++ {
		p[i] = 0xFF
	}
	if _, err := w.bw.Write(p); err != nil {
		return err
	}
	w.written += packetSize
	return nil
}

// BytesWritten returns the transport stream size so far.
func (w *Writer) BytesWritten() int64 { return w.written }

// Close flushes and commits the file. A writer that never started discards
// its output and returns ErrNotStarted.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if !w.started {
		_ = w.sink.Abort()
		return ErrNotStarted
	}
	if err := w.bw.Flush(); err != nil {
		_ = w.sink.Abort()
		return fmt.Errorf("tsmux: flush: %w", err)
	}
	if err := w.sink.Commit(); err != nil {
		_ = w.sink.Abort()
		return fmt.Errorf("tsmux: commit: %w", err)
	}
	return nil
}
