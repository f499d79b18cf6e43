// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package watchdog detects capture pipelines that stop producing frames.
package watchdog

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrStartTimeout means no frame arrived within the start timeout.
	ErrStartTimeout = errors.New("watchdog: no frame before start timeout")
	// ErrStalled means frames stopped arriving for longer than the stall timeout.
	ErrStalled = errors.New("watchdog: frame stream stalled")
)

type State int

const (
	StateStarting State = iota
	StateRunning
	StateStalled
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStalled:
		return "stalled"
	case StateTimedOut:
		return "timed_out"
	}
	return "unknown"
}

type clock interface {
	Now() time.Time
	NewTicker(d time.Duration) ticker
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time                   { return time.Now() }
func (realClock) NewTicker(d time.Duration) ticker { return &realTicker{time.NewTicker(d)} }

type realTicker struct {
	*time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.Ticker.C }

// Watchdog enforces a start timeout until the first heartbeat and a stall
// timeout between heartbeats after that.
type Watchdog struct {
	mu sync.Mutex

	startTimeout time.Duration
	stallTimeout time.Duration
	interval     time.Duration

	lastHeartbeat time.Time
	beats         uint64
	state         State

	clock clock
}

// New creates a watchdog with the given timeouts.
func New(startTimeout, stallTimeout time.Duration) *Watchdog {
	interval := stallTimeout / 4
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	return &Watchdog{
		startTimeout: startTimeout,
		stallTimeout: stallTimeout,
		interval:     interval,
		clock:        realClock{},
	}
}

// Run checks the timeouts until ctx is cancelled. It returns ErrStartTimeout
// or ErrStalled when one is exceeded, and nil on cancellation.
func (w *Watchdog) Run(ctx context.Context) error {
	w.mu.Lock()
	w.lastHeartbeat = w.clock.Now()
	w.state = StateStarting
	w.beats = 0
	w.mu.Unlock()

	t := w.clock.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C():
			if err := w.check(now); err != nil {
				return err
			}
		}
	}
}

// Beat records progress.
func (w *Watchdog) Beat() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastHeartbeat = w.clock.Now()
	w.beats++
	if w.state == StateStarting {
		w.state = StateRunning
	}
}

// check evaluates the timeouts as of now, the time of the tick.
func (w *Watchdog) check(now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	elapsed := now.Sub(w.lastHeartbeat)
	switch w.state {
	case StateStarting:
		if w.startTimeout > 0 && elapsed > w.startTimeout {
			w.state = StateTimedOut
			return ErrStartTimeout
		}
	case StateRunning:
		if w.stallTimeout > 0 && elapsed > w.stallTimeout {
			w.state = StateStalled
			return ErrStalled
		}
	}
	return nil
}

// State returns the current watchdog state.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Beats returns the number of heartbeats seen by the current Run.
func (w *Watchdog) Beats() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.beats
}
