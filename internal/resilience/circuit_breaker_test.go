// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

var errBoom = errors.New("boom")

func fail() error { return errBoom }
func ok() error   { return nil }

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 3, 30*time.Second, WithClock(clock))

	assert.ErrorIs(t, cb.Execute(fail), errBoom)
	assert.ErrorIs(t, cb.Execute(fail), errBoom)
	assert.Equal(t, StateClosed, cb.State())

	assert.ErrorIs(t, cb.Execute(fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, 30*time.Second, cb.RetryAfter())
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, time.Minute)
	_ = cb.Execute(fail)
	_ = cb.Execute(ok)
	_ = cb.Execute(fail)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 1, 10*time.Second, WithClock(clock))

	_ = cb.Execute(fail)
	assert.Equal(t, StateOpen, cb.State())

	clock.now = clock.now.Add(10 * time.Second)
	assert.ErrorIs(t, cb.Execute(fail), errBoom, "probe runs once the timeout elapsed")
	assert.Equal(t, StateOpen, cb.State())

	clock.now = clock.now.Add(10 * time.Second)
	assert.NoError(t, cb.Execute(ok))
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.RetryAfter())
}

func TestCircuitBreaker_IgnoredErrors(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute, WithIgnoredErrors(func(err error) bool {
		return errors.Is(err, context.Canceled)
	}))

	err := cb.Execute(func() error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}
