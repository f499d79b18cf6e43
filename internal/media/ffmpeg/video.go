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
	"github.com/ManuGH/segrelay/internal/media/hevc"
)

// videoArgs encodes raw frames from stdin to an Annex-B HEVC stream on stdout.
// B-frames are disabled so output order matches input order.
func videoArgs(encoder string, f capture.VideoFormat, opts Options) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "rawvideo",
		"-pix_fmt", opts.pixelFormat(),
		"-s", fmt.Sprintf("%dx%d", f.Width, f.Height),
		"-r", strconv.Itoa(f.FPS),
		"-i", "pipe:0",
	}
	if encoder == "hevc_vaapi" {
		args = append([]string{"-vaapi_device", opts.vaapiDevice()}, args...)
		args = append(args, "-vf", "format=nv12,hwupload")
	}
	args = append(args,
		"-c:v", encoder,
		"-bf", "0",
		"-g", strconv.Itoa(f.FPS*2),
		"-f", "hevc",
		"pipe:1",
	)
	return args
}

// hevcPacketizer turns the encoder byte stream into packets. Input
// timestamps are matched to output access units in FIFO order.
type hevcPacketizer struct {
	format     media.TrackFormat
	splitter   hevc.Splitter
	frameDur   int64
	configSent bool

	mu      sync.Mutex
	pending []int64
	last    int64
}

func newHEVCPacketizer(f capture.VideoFormat) *hevcPacketizer {
	dur := int64(33333)
	if f.FPS > 0 {
		dur = int64(time.Second/time.Microsecond) / int64(f.FPS)
	}
	return &hevcPacketizer{
		format:   media.TrackFormat{Kind: media.KindVideo, Codec: media.CodecHEVC, Width: f.Width, Height: f.Height},
		frameDur: dur,
		last:     -dur,
	}
}

func (h *hevcPacketizer) pushPTS(pts int64) {
	h.mu.Lock()
	h.pending = append(h.pending, pts)
	h.mu.Unlock()
}

func (h *hevcPacketizer) popPTS() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) == 0 {
		h.last += h.frameDur
		return h.last
	}
	pts := h.pending[0]
	h.pending = h.pending[1:]
	h.last = pts
	return pts
}

func (h *hevcPacketizer) feed(p []byte) []media.Packet {
	return h.packets(h.splitter.Write(p))
}

func (h *hevcPacketizer) flush() []media.Packet {
	return h.packets(h.splitter.Flush())
}

func (h *hevcPacketizer) packets(aus []hevc.AccessUnit) []media.Packet {
	var out []media.Packet
	for _, au := range aus {
		pts := h.popPTS()
		if !h.configSent {
			ps := au.ParameterSets()
			if ps == nil {
				// Undecodable without parameter sets.
				continue
			}
			f := h.format
			f.Config = ps
			out = append(out, media.Packet{Format: &f})
			h.configSent = true
		}
		out = append(out, media.Packet{Data: au.Bytes(), PTS: pts, Key: au.Key()})
	}
	return out
}

// VideoEncoder is a capture.Encoder backed by an ffmpeg hardware HEVC encoder.
type VideoEncoder struct {
	proc       *process
	pkt        *hevcPacketizer
	out        *outbox
	frameSize  int
	eos        atomic.Bool
	readerDone chan struct{}
}

// StartVideoEncoder launches ffmpeg with the given hardware encoder.
func StartVideoEncoder(ctx context.Context, encoder string, f capture.VideoFormat, opts Options) (*VideoEncoder, error) {
	if f.Width <= 0 || f.Height <= 0 || f.FPS <= 0 {
		return nil, fmt.Errorf("ffmpeg: invalid video format %+v", f)
	}
	proc, err := startProcess(ctx, "video_encoder", opts.Binary, videoArgs(encoder, f, opts), true)
	if err != nil {
		return nil, err
	}
	v := &VideoEncoder{
		proc:       proc,
		pkt:        newHEVCPacketizer(f),
		out:        newOutbox(),
		frameSize:  media.FrameSize(f.Width, f.Height),
		readerDone: make(chan struct{}),
	}
	go v.read()
	proc.logger.Info().Str(log.FieldEncoder, encoder).Str(log.FieldEvent, "ffmpeg.encoder_started").Msg("video encoder started")
	return v, nil
}

func (v *VideoEncoder) read() {
	defer close(v.readerDone)
	buf := make([]byte, 64*1024)
	for {
		n, err := v.proc.stdout.Read(buf)
		if n > 0 {
			v.out.put(v.pkt.feed(buf[:n])...)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) && v.eos.Load() {
			v.out.put(v.pkt.flush()...)
			v.out.put(media.Packet{EOS: true})
			return
		}
		v.out.fail(fmt.Errorf("ffmpeg video output ended: %v (%s)", err, v.proc.ring.Tail(5)))
		return
	}
}

func (v *VideoEncoder) Submit(data []byte, pts int64) error {
	if v.eos.Load() {
		return errors.New("ffmpeg: submit after end of stream")
	}
	if len(data) < v.frameSize {
		return fmt.Errorf("ffmpeg: short frame (%d < %d bytes)", len(data), v.frameSize)
	}
	v.pkt.pushPTS(pts)
	if _, err := v.proc.stdin.Write(data[:v.frameSize]); err != nil {
		return fmt.Errorf("ffmpeg: write frame: %w", err)
	}
	return nil
}

func (v *VideoEncoder) SignalEOS() error {
	if v.eos.Swap(true) {
		return nil
	}
	return v.proc.closeInput()
}

func (v *VideoEncoder) Poll(timeout time.Duration) (media.Packet, bool, error) {
	return v.out.poll(timeout)
}

func (v *VideoEncoder) Close() error {
	v.eos.Store(true)
	err := v.proc.stop()
	<-v.readerDone
	v.out.close()
	return err
}

// VideoFactory selects a hardware HEVC encoder once and starts one ffmpeg
// encoder per recording.
func VideoFactory(opts Options) capture.VideoEncoderFactory {
	var (
		mu       sync.Mutex
		selected string
	)
	return func(ctx context.Context, f capture.VideoFormat) (capture.Encoder, error) {
		mu.Lock()
		if selected == "" {
			name, err := SelectHEVC(ctx, opts)
			if err != nil {
				mu.Unlock()
				return nil, err
			}
			selected = name
		}
		encoder := selected
		mu.Unlock()
		return StartVideoEncoder(ctx, encoder, f, opts)
	}
}
