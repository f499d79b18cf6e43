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
	"github.com/ManuGH/segrelay/internal/media/aac"
)

// audioEncoderArgs encodes s16le mono PCM to AAC-LC in ADTS framing.
func audioEncoderArgs() []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "s16le",
		"-ar", strconv.Itoa(media.AudioSampleRate),
		"-ac", strconv.Itoa(media.AudioChannels),
		"-i", "pipe:0",
		"-c:a", "aac",
		"-profile:a", "aac_low",
		"-b:a", strconv.Itoa(media.AudioBitrate),
		"-f", "adts",
		"pipe:1",
	}
}

// framePTS is the timestamp of AAC frame n relative to base, in microseconds.
func framePTS(base, n int64, sampleRate int) int64 {
	return base + n*aac.SamplesPerFrame*int64(time.Second/time.Microsecond)/int64(sampleRate)
}

// aacPacketizer turns ADTS output into raw AAC packets with timestamps
// derived from the frame count.
type aacPacketizer struct {
	reader     aac.Reader
	configSent bool
	frames     int64

	mu      sync.Mutex
	base    int64
	baseSet bool
}

func (a *aacPacketizer) setBase(pts int64) {
	a.mu.Lock()
	if !a.baseSet {
		a.base, a.baseSet = pts, true
	}
	a.mu.Unlock()
}

func (a *aacPacketizer) feed(p []byte) ([]media.Packet, error) {
	a.mu.Lock()
	base := a.base
	a.mu.Unlock()

	var out []media.Packet
	for _, f := range a.reader.Write(p) {
		if !a.configSent {
			asc, err := f.Config.Marshal()
			if err != nil {
				return out, err
			}
			out = append(out, media.Packet{Format: &media.TrackFormat{
				Kind:       media.KindAudio,
				Codec:      media.CodecAAC,
				Config:     asc,
				SampleRate: f.Config.SampleRate,
				Channels:   f.Config.Channels,
			}})
			a.configSent = true
		}
		out = append(out, media.Packet{
			Data: f.Payload,
			PTS:  framePTS(base, a.frames, f.Config.SampleRate),
			Key:  true,
		})
		a.frames++
	}
	return out, nil
}

// AudioEncoder is a capture.Encoder producing AAC-LC via ffmpeg.
type AudioEncoder struct {
	proc       *process
	pkt        *aacPacketizer
	out        *outbox
	eos        atomic.Bool
	readerDone chan struct{}
}

func StartAudioEncoder(ctx context.Context, opts Options) (*AudioEncoder, error) {
	proc, err := startProcess(ctx, "audio_encoder", opts.Binary, audioEncoderArgs(), true)
	if err != nil {
		return nil, err
	}
	a := &AudioEncoder{
		proc:       proc,
		pkt:        &aacPacketizer{},
		out:        newOutbox(),
		readerDone: make(chan struct{}),
	}
	go a.read()
	proc.logger.Info().Str(log.FieldEncoder, "aac").Str(log.FieldEvent, "ffmpeg.encoder_started").Msg("audio encoder started")
	return a, nil
}

func (a *AudioEncoder) read() {
	defer close(a.readerDone)
	buf := make([]byte, 16*1024)
	for {
		n, err := a.proc.stdout.Read(buf)
		if n > 0 {
			pkts, perr := a.pkt.feed(buf[:n])
			a.out.put(pkts...)
			if perr != nil {
				a.out.fail(perr)
				return
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) && a.eos.Load() {
			a.out.put(media.Packet{EOS: true})
			return
		}
		a.out.fail(fmt.Errorf("ffmpeg audio output ended: %v (%s)", err, a.proc.ring.Tail(5)))
		return
	}
}

func (a *AudioEncoder) Submit(pcm []byte, pts int64) error {
	if a.eos.Load() {
		return errors.New("ffmpeg: submit after end of stream")
	}
	a.pkt.setBase(pts)
	if _, err := a.proc.stdin.Write(pcm); err != nil {
		return fmt.Errorf("ffmpeg: write pcm: %w", err)
	}
	return nil
}

func (a *AudioEncoder) SignalEOS() error {
	if a.eos.Swap(true) {
		return nil
	}
	return a.proc.closeInput()
}

func (a *AudioEncoder) Poll(timeout time.Duration) (media.Packet, bool, error) {
	return a.out.poll(timeout)
}

func (a *AudioEncoder) Close() error {
	a.eos.Store(true)
	err := a.proc.stop()
	<-a.readerDone
	a.out.close()
	return err
}

// AudioFactory opens the ALSA device and an AAC encoder for each recording.
func AudioFactory(opts Options, device string) capture.AudioFactory {
	return func(ctx context.Context) (capture.AudioSource, capture.Encoder, error) {
		if device == "" {
			return nil, nil, errors.New("ffmpeg: no audio device configured")
		}
		src, err := OpenALSA(ctx, opts, device)
		if err != nil {
			return nil, nil, err
		}
		enc, err := StartAudioEncoder(ctx, opts)
		if err != nil {
			_ = src.Close()
			return nil, nil, err
		}
		return src, enc, nil
	}
}
