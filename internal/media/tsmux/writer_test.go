// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tsmux

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/segrelay/internal/media"
	"github.com/ManuGH/segrelay/internal/media/aac"
	"github.com/ManuGH/segrelay/internal/media/hevc"
)

var (
	testVPS = []byte{hevc.NALVPS << 1, 0x01, 0x0C}
	testSPS = []byte{hevc.NALSPS << 1, 0x01, 0x0D}
	testPPS = []byte{hevc.NALPPS << 1, 0x01, 0x0E}
)

func videoFormat() media.TrackFormat {
	return media.TrackFormat{Kind: media.KindVideo, Codec: media.CodecHEVC, Config: hevc.Join(testVPS, testSPS, testPPS), Width: 640, Height: 480}
}

func audioFormat(t *testing.T) media.TrackFormat {
	asc, err := aac.Config{ObjectType: aac.ObjectTypeLC, SampleRate: 44100, Channels: 1}.Marshal()
	require.NoError(t, err)
	return media.TrackFormat{Kind: media.KindAudio, Codec: media.CodecAAC, Config: asc, SampleRate: 44100, Channels: 1}
}

func idr(size int) []byte {
	nal := make([]byte, size)
	nal[0], nal[1], nal[2] = hevc.NALIDRWRADL<<1, 0x01, 0x80
	for i := 3; i < size; i++ {
		nal[i] = 0xAB
	}
	return hevc.Join(nal)
}

type tsPacket struct {
	pid     uint16
	pusi    bool
	cc      byte
	af      []byte
	payload []byte
}

func parsePackets(t *testing.T, data []byte) []tsPacket {
	t.Helper()
	require.Zero(t, len(data)%packetSize)
	var out []tsPacket
	for off := 0; off < len(data); off += packetSize {
		p := data[off : off+packetSize]
		require.Equal(t, byte(0x47), p[0], "sync byte at %d", off)
		pkt := tsPacket{
			pid:  uint16(p[1]&0x1F)<<8 | uint16(p[2]),
			pusi: p[1]&0x40 != 0,
			cc:   p[3] & 0x0F,
		}
		pos := 4
		if p[3]&0x20 != 0 {
			l := int(p[4])
			pkt.af = p[5 : 5+l]
			pos = 5 + l
		}
		if p[3]&0x10 != 0 {
			pkt.payload = p[pos:]
		}
		out = append(out, pkt)
	}
	return out
}

// reassemble returns the PES packets of pid.
func reassemble(pkts []tsPacket, pid uint16) [][]byte {
	var out [][]byte
	for _, p := range pkts {
		if p.pid != pid {
			continue
		}
		if p.pusi {
			out = append(out, nil)
		}
		if len(out) == 0 {
			continue
		}
		out[len(out)-1] = append(out[len(out)-1], p.payload...)
	}
	return out
}

func readPTS(b []byte) uint64 {
	return uint64(b[0]>>1&0x07)<<30 | uint64(b[1])<<22 | uint64(b[2]>>1)<<15 | uint64(b[3])<<7 | uint64(b[4]>>1)
}

func TestCRC32MPEG2(t *testing.T) {
	// Standard check value for CRC-32/MPEG-2.
	assert.Equal(t, uint32(0x0376E6E7), crc32MPEG2([]byte("123456789")))
}

func TestWriterAudioVideo(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	vi, err := w.AddTrack(videoFormat())
	require.NoError(t, err)
	ai, err := w.AddTrack(audioFormat(t))
	require.NoError(t, err)
	require.NoError(t, w.Start())

	_, err = w.AddTrack(videoFormat())
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	frame := idr(1000)
	require.NoError(t, w.WriteSample(vi, media.Packet{Data: frame, PTS: 0, Key: true}))
	require.NoError(t, w.WriteSample(ai, media.Packet{Data: make([]byte, 100), PTS: 10_000}))
	require.NoError(t, w.WriteSample(vi, media.Packet{Data: frame, PTS: 33_333}))
	require.NoError(t, w.Close())

	pkts := parsePackets(t, buf.Bytes())
	assert.EqualValues(t, len(buf.Bytes()), w.BytesWritten())

	// Continuity counters advance per PID.
	last := map[uint16]int{}
	for _, p := range pkts {
		if prev, ok := last[p.pid]; ok {
			assert.Equal(t, byte((prev+1)&0x0F), p.cc, "pid 0x%x", p.pid)
		}
		last[p.pid] = int(p.cc)
	}

	// PAT and PMT sections carry valid CRCs (CRC over section+crc is zero).
	for _, p := range pkts {
		if p.pid != pidPAT && p.pid != pidPMT {
			continue
		}
		sec := p.payload[1:]
		l := int(sec[1]&0x0F)<<8 | int(sec[2])
		assert.Zero(t, crc32MPEG2(sec[:3+l]))
	}

	video := reassemble(pkts, pidVideo)
	require.Len(t, video, 2)
	first := video[0]
	require.Equal(t, []byte{0, 0, 1, streamIDVideo}, first[:4])
	assert.Equal(t, uint64(ptsOffset), readPTS(first[9:14]))
	es := first[14:]
	assert.True(t, bytes.HasPrefix(es, hevc.AUD), "access unit delimiter first")
	nals := hevc.Split(es)
	require.Len(t, nals, 5)
	assert.Equal(t, byte(hevc.NALAUD), hevc.Type(nals[0]))
	assert.Equal(t, byte(hevc.NALVPS), hevc.Type(nals[1]), "parameter sets on keyframes")
	assert.Equal(t, byte(hevc.NALIDRWRADL), hevc.Type(nals[4]))

	second := video[1]
	// 33333us at 90 kHz truncates to 2999 ticks.
	assert.Equal(t, uint64(ptsOffset+2999), readPTS(second[9:14]))

	audio := reassemble(pkts, pidAudio)
	require.Len(t, audio, 1)
	adts := audio[0][14:]
	h, err := aac.ParseHeader(adts)
	require.NoError(t, err)
	assert.Equal(t, 107, h.FrameLength)
	assert.Equal(t, 44100, h.Config.SampleRate)
}

func TestWriterKeepsPTSIncreasingPerTrack(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	ai, err := w.AddTrack(audioFormat(t))
	require.NoError(t, err)
	require.NoError(t, w.Start())

	// 1000000us and 1000001us both map to 90000 ticks.
	require.NoError(t, w.WriteSample(ai, media.Packet{Data: make([]byte, 10), PTS: 1_000_000}))
	require.NoError(t, w.WriteSample(ai, media.Packet{Data: make([]byte, 10), PTS: 1_000_001}))
	require.NoError(t, w.WriteSample(ai, media.Packet{Data: make([]byte, 10), PTS: 1_000_002}))
	require.NoError(t, w.WriteSample(ai, media.Packet{Data: make([]byte, 10), PTS: 1_023_220}))
	require.NoError(t, w.Close())

	audio := reassemble(parsePackets(t, buf.Bytes()), pidAudio)
	require.Len(t, audio, 4)
	var got []uint64
	for _, pes := range audio {
		got = append(got, readPTS(pes[9:14]))
	}
	base := uint64(ptsOffset + 90000)
	assert.Equal(t, []uint64{base, base + 1, base + 2, base + 2089}, got)
}

func TestWriterKeyframeCarriesPCRAndRandomAccess(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	vi, err := w.AddTrack(videoFormat())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.WriteSample(vi, media.Packet{Data: idr(50), PTS: 1_000_000, Key: true}))
	require.NoError(t, w.Close())

	var found bool
	for _, p := range parsePackets(t, buf.Bytes()) {
		if p.pid != pidVideo || !p.pusi {
			continue
		}
		found = true
		require.NotEmpty(t, p.af)
		assert.NotZero(t, p.af[0]&0x40, "random_access_indicator")
		require.NotZero(t, p.af[0]&0x10, "PCR flag")
		base := uint64(p.af[1])<<25 | uint64(p.af[2])<<17 | uint64(p.af[3])<<9 | uint64(p.af[4])<<1 | uint64(p.af[5]>>7)
		assert.Equal(t, uint64(90000), base)
	}
	assert.True(t, found)
}

func TestWriterRejectsMisuse(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	assert.ErrorIs(t, w.WriteSample(0, media.Packet{}), ErrNotStarted)
	assert.Error(t, w.Start(), "no tracks")

	_, err := w.AddTrack(media.TrackFormat{Kind: media.KindVideo, Codec: "vp9"})
	assert.Error(t, err)

	vi, err := w.AddTrack(videoFormat())
	require.NoError(t, err)
	_, err = w.AddTrack(videoFormat())
	assert.Error(t, err, "duplicate track")
	require.NoError(t, w.Start())
	assert.Error(t, w.WriteSample(vi+5, media.Packet{}))
}

func TestCreateCommitsAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.ts")
	w, err := Create(path)
	require.NoError(t, err)
	vi, err := w.AddTrack(videoFormat())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.WriteSample(vi, media.Packet{Data: idr(400), Key: true}))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "file hidden until close")

	require.NoError(t, w.Close())
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, w.BytesWritten(), info.Size())
	require.NoError(t, w.Close(), "second close is a no-op")
}

func TestCreateNeverStartedLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seg.ts")
	w, err := Create(path)
	require.NoError(t, err)
	assert.ErrorIs(t, w.Close(), ErrNotStarted)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
