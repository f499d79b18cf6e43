// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type mockClock struct {
	mu      sync.Mutex
	now     time.Time
	created chan *mockTicker
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Unix(1_700_000_000, 0), created: make(chan *mockTicker, 1)}
}

func (m *mockClock) Now() time.Time { m.mu.Lock(); defer m.mu.Unlock(); return m.now }
func (m *mockClock) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
func (m *mockClock) NewTicker(time.Duration) ticker {
	t := &mockTicker{c: make(chan time.Time)}
	m.created <- t
	return t
}

type mockTicker struct {
	c chan time.Time
}

func (m *mockTicker) C() <-chan time.Time { return m.c }
func (m *mockTicker) Stop()               {}

func start(t *testing.T, w *Watchdog, clock *mockClock) (*mockTicker, <-chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	select {
	case tk := <-clock.created:
		return tk, errCh, cancel
	case <-time.After(time.Second):
		cancel()
		t.Fatal("watchdog did not start")
		return nil, nil, nil
	}
}

func TestWatchdog_StartTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	clock := newMockClock()
	w := New(2*time.Second, 5*time.Second)
	w.clock = clock

	tk, errCh, cancel := start(t, w, clock)
	defer cancel()

	clock.advance(time.Second)
	tk.c <- clock.Now()
	assert.Equal(t, StateStarting, w.State())

	clock.advance(2 * time.Second)
	tk.c <- clock.Now()
	require.ErrorIs(t, <-errCh, ErrStartTimeout)
	assert.Equal(t, StateTimedOut, w.State())
}

func TestWatchdog_StallTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	clock := newMockClock()
	w := New(2*time.Second, 5*time.Second)
	w.clock = clock

	tk, errCh, cancel := start(t, w, clock)
	defer cancel()

	w.Beat()
	assert.Equal(t, StateRunning, w.State())

	// beats keep it alive past the start timeout
	for i := 0; i < 4; i++ {
		clock.advance(3 * time.Second)
		w.Beat()
		tk.c <- clock.Now()
	}
	assert.Equal(t, StateRunning, w.State())
	assert.EqualValues(t, 5, w.Beats())

	clock.advance(6 * time.Second)
	tk.c <- clock.Now()
	require.ErrorIs(t, <-errCh, ErrStalled)
	assert.Equal(t, StateStalled, w.State())
}

func TestWatchdog_ChecksAtTickTime(t *testing.T) {
	defer goleak.VerifyNone(t)
	clock := newMockClock()
	w := New(2*time.Second, 5*time.Second)
	w.clock = clock

	tk, errCh, cancel := start(t, w, clock)

	// The clock runs ahead of the tick; the tick's own time decides.
	first := clock.Now().Add(time.Second)
	clock.advance(10 * time.Second)
	tk.c <- first

	select {
	case err := <-errCh:
		t.Fatalf("watchdog fired early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, StateStarting, w.State())

	cancel()
	assert.NoError(t, <-errCh)
}

func TestWatchdog_CancelReturnsNil(t *testing.T) {
	defer goleak.VerifyNone(t)
	clock := newMockClock()
	w := New(time.Second, time.Second)
	w.clock = clock

	_, errCh, cancel := start(t, w, clock)
	cancel()
	assert.NoError(t, <-errCh)
}

func TestWatchdog_Interval(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, New(time.Second, 2*time.Second).interval)
	assert.Equal(t, time.Second, New(time.Second, time.Minute).interval)
	assert.Equal(t, time.Second, New(0, 0).interval)
	assert.Equal(t, "stalled", StateStalled.String())
}
