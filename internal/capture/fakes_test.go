// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/segrelay/internal/media"
)

// fakeEncoder emits one config packet, then one sample per Submit. ptsFn can
// rewrite timestamps to simulate encoders that reorder or truncate them.
type fakeEncoder struct {
	kind      media.Kind
	out       chan media.Packet
	sentCfg   atomic.Bool
	closes    atomic.Int32
	submitErr error
	ptsFn     func(n int, pts int64) int64
	n         atomic.Int32
	closed    chan struct{}
	closeOnce sync.Once
	// configAfter delays the config packet until this many submits.
	configAfter int32
}

func newFakeEncoder(kind media.Kind) *fakeEncoder {
	return &fakeEncoder{kind: kind, out: make(chan media.Packet, 1024), closed: make(chan struct{})}
}

func (f *fakeEncoder) Submit(data []byte, pts int64) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	n := f.n.Add(1)
	if n > f.configAfter && !f.sentCfg.Swap(true) {
		codec := media.CodecHEVC
		if f.kind == media.KindAudio {
			codec = media.CodecAAC
		}
		f.out <- media.Packet{Format: &media.TrackFormat{Codec: codec, Config: []byte{1}}}
	}
	if f.ptsFn != nil {
		pts = f.ptsFn(int(n), pts)
	}
	f.out <- media.Packet{Data: append([]byte(nil), data[:1]...), PTS: pts, Key: true}
	return nil
}

func (f *fakeEncoder) SignalEOS() error {
	f.out <- media.Packet{EOS: true}
	return nil
}

func (f *fakeEncoder) Poll(timeout time.Duration) (media.Packet, bool, error) {
	if timeout <= 0 {
		select {
		case p := <-f.out:
			return p, true, nil
		case <-f.closed:
			return media.Packet{}, false, errors.New("closed")
		default:
			return media.Packet{}, false, nil
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case p := <-f.out:
		return p, true, nil
	case <-f.closed:
		return media.Packet{}, false, errors.New("closed")
	case <-t.C:
		return media.Packet{}, false, nil
	}
}

func (f *fakeEncoder) Close() error {
	f.closes.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

type fakeSource struct {
	pts    int64
	closes atomic.Int32
	err    error
}

func (s *fakeSource) Read(timeout time.Duration) ([]byte, int64, bool, error) {
	if s.err != nil {
		return nil, 0, false, s.err
	}
	time.Sleep(2 * time.Millisecond)
	pts := s.pts
	s.pts += 23219 // 1024 samples at 44.1 kHz
	return make([]byte, 2048), pts, true, nil
}

func (s *fakeSource) Close() error {
	s.closes.Add(1)
	return nil
}

type fakeMuxer struct {
	mu       sync.Mutex
	tracks   []media.TrackFormat
	started  bool
	samples  map[int][]int64
	closes   int
	closeErr error
}

func newFakeMuxer() *fakeMuxer {
	return &fakeMuxer{samples: make(map[int][]int64)}
}

func (m *fakeMuxer) AddTrack(f media.TrackFormat) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return 0, errors.New("already started")
	}
	m.tracks = append(m.tracks, f)
	return len(m.tracks) - 1, nil
}

func (m *fakeMuxer) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

func (m *fakeMuxer) WriteSample(track int, pkt media.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return errors.New("not started")
	}
	s := m.samples[track]
	if len(s) > 0 && pkt.PTS <= s[len(s)-1] {
		return errors.New("non-monotonic timestamp")
	}
	m.samples[track] = append(s, pkt.PTS)
	return nil
}

func (m *fakeMuxer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return m.closeErr
}

func (m *fakeMuxer) trackIndex(kind media.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.tracks {
		if t.Kind == kind {
			return i
		}
	}
	return -1
}

func (m *fakeMuxer) sampleCount(track int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples[track])
}

type listener struct {
	mu        sync.Mutex
	begins    []bool
	errs      []string
	completes []string
}

func (l *listener) wire(cfg *Config) {
	cfg.OnBegin = func(audio bool) { l.mu.Lock(); l.begins = append(l.begins, audio); l.mu.Unlock() }
	cfg.OnError = func(msg string) { l.mu.Lock(); l.errs = append(l.errs, msg); l.mu.Unlock() }
	cfg.OnComplete = func(p string) { l.mu.Lock(); l.completes = append(l.completes, p); l.mu.Unlock() }
}

func (l *listener) snapshot() (begins []bool, errs, completes []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.begins...), append([]string(nil), l.errs...), append([]string(nil), l.completes...)
}

func videoFactory(enc *fakeEncoder) VideoEncoderFactory {
	return func(ctx context.Context, f VideoFormat) (Encoder, error) { return enc, nil }
}

func muxerFactory(m *fakeMuxer) MuxerFactory {
	return func(path string) (Muxer, error) { return m, nil }
}
