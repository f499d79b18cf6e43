// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	const maxRetry = 5
	tests := []struct {
		from, to UploadState
		retry    int
		want     bool
	}{
		{StateNone, StatePending, 0, true},
		{StateNone, StateUploading, 0, false},
		{StatePending, StateUploading, 0, true},
		{StatePending, StateCompleted, 0, false},
		{StateUploading, StateUploading, 0, true},
		{StateUploading, StatePending, 0, true},
		{StateUploading, StateFailed, 0, true},
		{StateUploading, StateCompleted, 0, true},
		{StateFailed, StateUploading, 4, true},
		{StateFailed, StateUploading, 5, false},
		{StateFailed, StatePending, 0, false},
		{StateCompleted, StateUploading, 0, false},
		{StateCompleted, StatePending, 0, false},
	}
	for _, tt := range tests {
		got := CanTransition(tt.from, tt.to, tt.retry, maxRetry)
		assert.Equal(t, tt.want, got, "%s -> %s (retry %d)", tt.from, tt.to, tt.retry)
	}
}

func TestFinalizeAndAssignPromoteWhicheverIsLast(t *testing.T) {
	t.Run("finalize last", func(t *testing.T) {
		s := &Segment{UploadState: StateNone}
		require.NoError(t, AssignWork("w1", 1)(s))
		assert.Equal(t, StateNone, s.UploadState)
		require.NoError(t, Finalize(1000, 2048)(s))
		assert.Equal(t, StatePending, s.UploadState)
	})
	t.Run("assign last", func(t *testing.T) {
		s := &Segment{UploadState: StateNone}
		require.NoError(t, Finalize(1000, 2048)(s))
		assert.Equal(t, StateNone, s.UploadState)
		require.NoError(t, AssignWork("w1", 1)(s))
		assert.Equal(t, StatePending, s.UploadState)
	})
}

func TestFinalizeOnlyOnce(t *testing.T) {
	s := &Segment{UploadState: StateNone}
	require.NoError(t, Finalize(1, 2)(s))
	err := Finalize(3, 4)(s)
	assert.True(t, errors.Is(err, ErrAlreadyFinalized))
	assert.Equal(t, int64(1), *s.DurationMs)

	up := &Segment{UploadState: StateUploading}
	assert.ErrorIs(t, Finalize(1, 2)(up), ErrInvalidTransition)
}

func TestRecordProgressMonotoneAndReset(t *testing.T) {
	s := &Segment{UploadState: StateUploading}
	require.NoError(t, RecordProgress("H1", 0)(s))
	require.NoError(t, RecordProgress("H1", 10)(s))
	require.NoError(t, RecordProgress("H1", 10)(s))
	assert.ErrorIs(t, RecordProgress("H1", 5)(s), ErrOffsetRegression)
	assert.Equal(t, int64(10), s.BytesAcked)

	require.NoError(t, RecordProgress("H2", 0)(s))
	assert.Equal(t, "H2", s.RemoteHandle)
	assert.Equal(t, int64(0), s.BytesAcked)
}

func TestFailPermanentlyPinsRetryAtCap(t *testing.T) {
	s := &Segment{UploadState: StatePending, RetryCount: 1}
	require.NoError(t, FailPermanently(5)(s))
	assert.Equal(t, StateFailed, s.UploadState)
	assert.Equal(t, 5, s.RetryCount)

	done := &Segment{UploadState: StateCompleted}
	assert.ErrorIs(t, FailPermanently(5)(done), ErrInvalidTransition)
}

func TestSetWorkState(t *testing.T) {
	w := &Work{ID: "w", State: WorkActive}
	require.NoError(t, SetWorkState(WorkPaused, time.Now())(w))
	require.NoError(t, SetWorkState(WorkActive, time.Now())(w))
	require.NoError(t, SetWorkState(WorkEnded, time.Now())(w))
	require.NotNil(t, w.EndedAt)
	assert.ErrorIs(t, SetWorkState(WorkActive, time.Now())(w), ErrInvalidTransition)
}
