// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package schedule

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/segrelay/internal/upload"
)

type fakeTimer struct {
	c      chan time.Time
	resets chan time.Duration
}

func (t *fakeTimer) C() <-chan time.Time { return t.c }
func (t *fakeTimer) Stop() bool          { return true }
func (t *fakeTimer) Reset(d time.Duration) bool {
	t.resets <- d
	return true
}
func (t *fakeTimer) fire() { t.c <- time.Now() }

type fakeClock struct {
	timer *fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{timer: &fakeTimer{c: make(chan time.Time, 1), resets: make(chan time.Duration, 16)}}
}

func (c *fakeClock) Now() time.Time { return time.Now() }
func (c *fakeClock) NewTimer(d time.Duration) Timer {
	if d == 0 {
		c.timer.fire()
	}
	return c.timer
}

type scriptedRunner struct {
	mu      sync.Mutex
	results []upload.Result
	calls   int
}

func (r *scriptedRunner) Run(context.Context) upload.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.results) == 0 {
		return upload.ResultSuccess
	}
	res := r.results[0]
	r.results = r.results[1:]
	return res
}

func (r *scriptedRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func startScheduler(t *testing.T, s *Scheduler) (cancel func()) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return func() {
		cancelCtx()
		require.NoError(t, <-done)
	}
}

func nextReset(t *testing.T, timer *fakeTimer) time.Duration {
	t.Helper()
	select {
	case d := <-timer.resets:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not reschedule")
		return 0
	}
}

func TestSchedulerBackoffDoublesAndResets(t *testing.T) {
	defer goleak.VerifyNone(t)

	retry := upload.ResultRetry
	runner := &scriptedRunner{results: []upload.Result{retry, retry, retry, retry, retry}}
	s := New(runner, Config{Interval: 15 * time.Minute, BackoffInitial: 30 * time.Second, BackoffMax: 2 * time.Minute})
	clock := newFakeClock()
	s.clock = clock
	stop := startScheduler(t, s)
	defer stop()

	want := []time.Duration{
		30 * time.Second, time.Minute, 2 * time.Minute, 2 * time.Minute, 2 * time.Minute,
		15 * time.Minute,
	}
	for i, w := range want {
		assert.Equal(t, w, nextReset(t, clock.timer), "reschedule %d", i)
		if i < len(want)-1 {
			clock.timer.fire()
		}
	}
	assert.Equal(t, 6, runner.Calls())

	_, result := s.LastRun()
	assert.Equal(t, "success", result)
}

func TestSchedulerManualTrigger(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &scriptedRunner{}
	s := New(runner, Config{})
	clock := newFakeClock()
	s.clock = clock
	stop := startScheduler(t, s)
	defer stop()

	assert.Equal(t, 15*time.Minute, nextReset(t, clock.timer))
	s.Trigger()
	assert.Equal(t, 15*time.Minute, nextReset(t, clock.timer))
	assert.Equal(t, 2, runner.Calls())
}

func TestSchedulerTriggerCoalesces(t *testing.T) {
	s := New(&scriptedRunner{}, Config{})
	s.Trigger()
	s.Trigger()
	s.Trigger()
	assert.Len(t, s.trigger, 1)
}

func TestSchedulerProbeGatesRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &scriptedRunner{}
	var mu sync.Mutex
	online := false
	probe := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if !online {
			return errors.New("no route to host")
		}
		return nil
	}
	s := New(runner, Config{BackoffInitial: time.Second, BackoffMax: time.Minute, Probe: probe})
	clock := newFakeClock()
	s.clock = clock
	stop := startScheduler(t, s)
	defer stop()

	assert.Equal(t, time.Second, nextReset(t, clock.timer), "offline run backs off")
	assert.Zero(t, runner.Calls())
	_, result := s.LastRun()
	assert.Equal(t, "offline", result)

	mu.Lock()
	online = true
	mu.Unlock()
	clock.timer.fire()
	assert.Equal(t, 15*time.Minute, nextReset(t, clock.timer))
	assert.Equal(t, 1, runner.Calls())
}

func TestSchedulerSetInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(&scriptedRunner{}, Config{Interval: time.Hour})
	s.SetInterval(20 * time.Minute)
	s.SetInterval(0)
	clock := newFakeClock()
	s.clock = clock
	stop := startScheduler(t, s)
	defer stop()
	assert.Equal(t, 20*time.Minute, nextReset(t, clock.timer))
}

func TestHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "/", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))
	probe, err := HTTPProbe(srv.Client(), srv.URL+"/api/upload", time.Second)
	require.NoError(t, err)
	assert.NoError(t, probe(context.Background()), "any HTTP answer means reachable")

	srv.Close()
	assert.Error(t, probe(context.Background()))

	_, err = HTTPProbe(http.DefaultClient, "not a url", time.Second)
	assert.Error(t, err)
}
