// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/segrelay/internal/catalog"
)

func addSegment(t *testing.T, store catalog.Store, dir string, age time.Duration, state catalog.UploadState) *catalog.Segment {
	t.Helper()
	path := filepath.Join(dir, uuid.NewString()+".ts")
	require.NoError(t, os.WriteFile(path, []byte("ts"), 0o600))
	dur, size := int64(1000), int64(2)
	seg := &catalog.Segment{
		Token:       uuid.NewString(),
		Path:        path,
		RecordedAt:  time.Now().Add(-age),
		DurationMs:  &dur,
		SizeBytes:   &size,
		WorkID:      "w",
		UploadState: state,
	}
	require.NoError(t, store.Insert(context.Background(), seg))
	return seg
}

func TestSweepRemovesOnlyOldCompleted(t *testing.T) {
	store := catalog.NewMemoryStore()
	dir := t.TempDir()
	ctx := context.Background()

	oldDone := addSegment(t, store, dir, 48*time.Hour, catalog.StateCompleted)
	oldPending := addSegment(t, store, dir, 48*time.Hour, catalog.StatePending)
	oldFailed := addSegment(t, store, dir, 48*time.Hour, catalog.StateFailed)
	freshDone := addSegment(t, store, dir, time.Hour, catalog.StateCompleted)

	s := New(store, 24*time.Hour, time.Hour)
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(ctx, oldDone.Token)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	assert.NoFileExists(t, oldDone.Path)

	for _, seg := range []*catalog.Segment{oldPending, oldFailed, freshDone} {
		_, err := store.Get(ctx, seg.Token)
		assert.NoError(t, err)
		assert.FileExists(t, seg.Path)
	}
}

func TestSweepToleratesMissingFile(t *testing.T) {
	store := catalog.NewMemoryStore()
	seg := addSegment(t, store, t.TempDir(), 48*time.Hour, catalog.StateCompleted)
	require.NoError(t, os.Remove(seg.Path))

	n, err := New(store, time.Hour, 0).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweepDisabled(t *testing.T) {
	store := catalog.NewMemoryStore()
	seg := addSegment(t, store, t.TempDir(), 48*time.Hour, catalog.StateCompleted)
	s := New(store, 0, 0)
	assert.False(t, s.Enabled())

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.FileExists(t, seg.Path)
	assert.NoError(t, s.Run(context.Background()))
}

func TestSweepSkipsPathsOutsideRoot(t *testing.T) {
	store := catalog.NewMemoryStore()
	root := t.TempDir()
	ctx := context.Background()

	inside := addSegment(t, store, root, 48*time.Hour, catalog.StateCompleted)
	outside := addSegment(t, store, t.TempDir(), 48*time.Hour, catalog.StateCompleted)

	n, err := New(store, time.Hour, 0).WithRoot(root).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, inside.Path)

	assert.FileExists(t, outside.Path)
	_, err = store.Get(ctx, outside.Token)
	assert.NoError(t, err)
}
