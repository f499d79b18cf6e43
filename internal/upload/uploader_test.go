// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/segrelay/internal/catalog"
	"github.com/ManuGH/segrelay/internal/lease"
	"github.com/ManuGH/segrelay/internal/resilience"
	"github.com/ManuGH/segrelay/internal/upload/tus"
	"github.com/ManuGH/segrelay/internal/upload/tustest"
)

const testChunk = 4096

type fixture struct {
	t      *testing.T
	store  catalog.Store
	srv    *tustest.Server
	client *tus.Client
	dir    string
	work   *catalog.Work
}

func newFixture(t *testing.T, store catalog.Store, chunk int) *fixture {
	t.Helper()
	srv := tustest.New()
	t.Cleanup(srv.Close)
	client, err := tus.NewClient(srv.Endpoint(), tus.Options{ChunkSize: chunk, HTTPClient: srv.Client()})
	require.NoError(t, err)

	work := &catalog.Work{ID: uuid.NewString(), Model: "M1", Serial: "S-01", Process: "weld", State: catalog.WorkActive, StartedAt: time.Now()}
	require.NoError(t, store.InsertWork(context.Background(), work))
	return &fixture{t: t, store: store, srv: srv, client: client, dir: t.TempDir(), work: work}
}

// segment writes a file of size bytes and inserts a PENDING segment for it.
func (f *fixture) segment(size int64, recordedAt time.Time) *catalog.Segment {
	f.t.Helper()
	path := filepath.Join(f.dir, uuid.NewString()+".ts")
	fh, err := os.Create(path)
	require.NoError(f.t, err)
	pattern := make([]byte, 1<<16)
	for i := range pattern {
		pattern[i] = byte(i * 31)
	}
	for written := int64(0); written < size; {
		n := min(int64(len(pattern)), size-written)
		_, err := fh.Write(pattern[:n])
		require.NoError(f.t, err)
		written += n
	}
	require.NoError(f.t, fh.Close())
	return f.insert(path, size, recordedAt)
}

func (f *fixture) insert(path string, size int64, recordedAt time.Time) *catalog.Segment {
	f.t.Helper()
	idx, err := f.store.MaxIndex(context.Background(), f.work.ID)
	require.NoError(f.t, err)
	idx++
	dur := int64(300_000)
	seg := &catalog.Segment{
		Token:       uuid.NewString(),
		Path:        path,
		Index:       &idx,
		RecordedAt:  recordedAt,
		DurationMs:  &dur,
		SizeBytes:   &size,
		WorkID:      f.work.ID,
		UploadState: catalog.StatePending,
	}
	require.NoError(f.t, f.store.Insert(context.Background(), seg))
	return seg
}

func (f *fixture) get(token string) *catalog.Segment {
	f.t.Helper()
	seg, err := f.store.Get(context.Background(), token)
	require.NoError(f.t, err)
	return seg
}

func fileSum(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestRunUploadsAllChunks(t *testing.T) {
	f := newFixture(t, catalog.NewMemoryStore(), testChunk)
	seg := f.segment(7*testChunk+123, time.Now())

	u := New(f.store, f.client, Config{AppVersion: "1.2.3", Checksum: true})
	assert.Equal(t, ResultSuccess, u.Run(context.Background()))

	got := f.get(seg.Token)
	assert.Equal(t, catalog.StateCompleted, got.UploadState)
	assert.Equal(t, *seg.SizeBytes, got.BytesAcked)
	require.NotNil(t, got.CompletedAt)
	assert.Zero(t, got.RetryCount)

	ups := f.srv.Uploads()
	require.Len(t, ups, 1)
	assert.Equal(t, 8, ups[0].Patches)
	assert.Equal(t, fileSum(t, seg.Path), ups[0].SHA256())

	md, err := tus.DecodeMetadata(ups[0].Metadata)
	require.NoError(t, err)
	for key, want := range map[string]string{
		"segmentUuid":  seg.Token,
		"workId":       f.work.ID,
		"model":        "M1",
		"serial":       "S-01",
		"process":      "weld",
		"segmentIndex": "1",
		"durationSec":  "300.0",
		"appVersion":   "1.2.3",
		"sha256":       fileSum(t, seg.Path),
	} {
		v, ok := md.Get(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, v, key)
	}
}

func TestRunUploadsOldestFirst(t *testing.T) {
	f := newFixture(t, catalog.NewMemoryStore(), testChunk)
	base := time.Now().Add(-time.Hour)
	newer := f.segment(100, base.Add(time.Minute))
	older := f.segment(100, base)

	u := New(f.store, f.client, Config{})
	require.Equal(t, ResultSuccess, u.Run(context.Background()))

	ups := f.srv.Uploads()
	require.Len(t, ups, 2)
	first, _ := tus.DecodeMetadata(ups[0].Metadata)
	second, _ := tus.DecodeMetadata(ups[1].Metadata)
	tok, _ := first.Get("segmentUuid")
	assert.Equal(t, older.Token, tok)
	tok, _ = second.Get("segmentUuid")
	assert.Equal(t, newer.Token, tok)
}

func TestRunStopKeepsProgressAndResumes(t *testing.T) {
	f := newFixture(t, catalog.NewMemoryStore(), testChunk)
	seg := f.segment(10*testChunk, time.Now())
	u := New(f.store, f.client, Config{})

	f.srv.OnPatch = func(up tustest.Upload) {
		if up.Offset == 4*testChunk {
			u.Yield()
		}
	}
	assert.Equal(t, ResultRetry, u.Run(context.Background()))

	stopped := f.get(seg.Token)
	assert.Equal(t, catalog.StatePending, stopped.UploadState)
	assert.NotEmpty(t, stopped.RemoteHandle)
	assert.Contains(t, []int64{3 * testChunk, 4 * testChunk}, stopped.BytesAcked)
	assert.Zero(t, stopped.RetryCount, "cancellation is not a failure")

	f.srv.OnPatch = nil
	assert.Equal(t, ResultSuccess, u.Run(context.Background()))

	done := f.get(seg.Token)
	assert.Equal(t, catalog.StateCompleted, done.UploadState)
	assert.Equal(t, stopped.RemoteHandle, done.RemoteHandle)
	ups := f.srv.Uploads()
	require.Len(t, ups, 1)
	assert.Equal(t, ups[0].Length, ups[0].Received, "no byte below the probed offset is resent")
	assert.Equal(t, fileSum(t, seg.Path), ups[0].SHA256())
}

func TestRunRetryCapBoundary(t *testing.T) {
	f := newFixture(t, catalog.NewMemoryStore(), testChunk)
	seg := f.segment(testChunk, time.Now())
	f.srv.Inject(tustest.Fault{Method: http.MethodPost, Status: http.StatusInternalServerError})

	u := New(f.store, f.client, Config{MaxRetry: 5})
	for i := 1; i < 5; i++ {
		require.Equal(t, ResultRetry, u.Run(context.Background()), "attempt %d", i)
		got := f.get(seg.Token)
		assert.Equal(t, catalog.StateFailed, got.UploadState)
		assert.Equal(t, i, got.RetryCount)
	}

	// The fifth failure reaches the cap: the segment is no longer selected.
	assert.Equal(t, ResultSuccess, u.Run(context.Background()))
	assert.Equal(t, 5, f.get(seg.Token).RetryCount)
	assert.Equal(t, 5, f.srv.Requests(http.MethodPost))

	next, err := Selector{Store: f.store, MaxRetry: 5}.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestRunIntegrityFailures(t *testing.T) {
	f := newFixture(t, catalog.NewMemoryStore(), testChunk)
	ctx := context.Background()

	missingFile := f.insert(filepath.Join(f.dir, "gone.ts"), 10, time.Now().Add(-2*time.Minute))

	orphan := f.segment(10, time.Now().Add(-time.Minute))
	_, err := f.store.Update(ctx, orphan.Token, func(s *catalog.Segment) error {
		s.WorkID = "no-such-work"
		return nil
	})
	require.NoError(t, err)

	good := f.segment(10, time.Now())

	u := New(f.store, f.client, Config{MaxRetry: 5})
	assert.Equal(t, ResultSuccess, u.Run(ctx))

	for _, tok := range []string{missingFile.Token, orphan.Token} {
		got := f.get(tok)
		assert.Equal(t, catalog.StateFailed, got.UploadState)
		assert.Equal(t, 5, got.RetryCount)
	}
	assert.Equal(t, catalog.StateCompleted, f.get(good.Token).UploadState)
	assert.Len(t, f.srv.Uploads(), 1)
}

func TestRunSkipsLeasedSegment(t *testing.T) {
	f := newFixture(t, catalog.NewMemoryStore(), testChunk)
	seg := f.segment(testChunk, time.Now())
	locker := lease.NewMemoryLocker()

	held, err := locker.Acquire(context.Background(), seg.Token, time.Minute)
	require.NoError(t, err)

	u := New(f.store, f.client, Config{}, WithLocker(locker))
	assert.Equal(t, ResultRetry, u.Run(context.Background()))
	assert.Equal(t, catalog.StatePending, f.get(seg.Token).UploadState)
	assert.Zero(t, f.srv.Requests(http.MethodPost))

	require.NoError(t, held.Release(context.Background()))
	assert.Equal(t, ResultSuccess, u.Run(context.Background()))
}

func TestRunBreakerStopsHammering(t *testing.T) {
	f := newFixture(t, catalog.NewMemoryStore(), testChunk)
	seg := f.segment(testChunk, time.Now())
	f.srv.Inject(tustest.Fault{Method: http.MethodPost, Status: http.StatusBadGateway})

	cb := resilience.NewCircuitBreaker("upload-test", 2, time.Hour)
	u := New(f.store, f.client, Config{}, WithBreaker(cb))
	assert.Equal(t, ResultRetry, u.Run(context.Background()))
	assert.Equal(t, ResultRetry, u.Run(context.Background()))
	assert.Equal(t, resilience.StateOpen, cb.State())

	assert.Equal(t, ResultRetry, u.Run(context.Background()))
	assert.Equal(t, 2, f.srv.Requests(http.MethodPost))
	got := f.get(seg.Token)
	assert.Equal(t, 2, got.RetryCount, "rejected attempts are not counted")
	assert.Equal(t, catalog.StateFailed, got.UploadState)
}

func TestRunLocalFailuresLeaveBreakerClosed(t *testing.T) {
	f := newFixture(t, catalog.NewMemoryStore(), testChunk)
	// A directory passes the existence check but cannot be hashed.
	dir := filepath.Join(f.dir, "not-a-file.ts")
	require.NoError(t, os.Mkdir(dir, 0o755))
	seg := f.insert(dir, testChunk, time.Now())

	cb := resilience.NewCircuitBreaker("upload-local", 1, time.Hour, resilience.WithIgnoredErrors(tus.IsLocal))
	u := New(f.store, f.client, Config{Checksum: true}, WithBreaker(cb))
	assert.Equal(t, ResultRetry, u.Run(context.Background()))
	assert.Equal(t, ResultRetry, u.Run(context.Background()))

	assert.Equal(t, resilience.StateClosed, cb.State())
	assert.Equal(t, 2, f.get(seg.Token).RetryCount)
	assert.Zero(t, f.srv.Requests(http.MethodPost))
}

func TestRunWithoutEndpoint(t *testing.T) {
	store := catalog.NewMemoryStore()
	u := New(store, nil, Config{})
	assert.Equal(t, ResultRetry, u.Run(context.Background()))
}

func TestRunCancelledContext(t *testing.T) {
	f := newFixture(t, catalog.NewMemoryStore(), testChunk)
	seg := f.segment(testChunk, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	u := New(f.store, f.client, Config{})
	assert.Equal(t, ResultRetry, u.Run(ctx))
	assert.Equal(t, catalog.StatePending, f.get(seg.Token).UploadState)
}

func TestRunLargeSparseFile(t *testing.T) {
	if testing.Short() {
		t.Skip("large upload")
	}
	f := newFixture(t, catalog.NewMemoryStore(), tus.DefaultChunkSize)
	const size = 300 << 20
	path := filepath.Join(f.dir, "large.ts")
	fh, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, fh.Truncate(size))
	require.NoError(t, fh.Close())
	seg := f.insert(path, size, time.Now())

	u := New(f.store, f.client, Config{})
	require.Equal(t, ResultSuccess, u.Run(context.Background()))

	got := f.get(seg.Token)
	assert.Equal(t, catalog.StateCompleted, got.UploadState)
	assert.EqualValues(t, 314572800, got.BytesAcked)
	ups := f.srv.Uploads()
	require.Len(t, ups, 1)
	assert.EqualValues(t, size, ups[0].Received)
	assert.EqualValues(t, size, ups[0].Offset)
	assert.Equal(t, 300, ups[0].Patches, "one PATCH per 1 MiB chunk")
}

func TestRunResumesAfterRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("large upload")
	}
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	store, err := catalog.NewSqliteStore(dbPath)
	require.NoError(t, err)
	const chunk = 1 << 20
	f := newFixture(t, store, chunk)
	seg := f.segment(100<<20, time.Now())

	u := New(store, f.client, Config{})
	f.srv.OnPatch = func(up tustest.Upload) {
		if up.Offset == 40*chunk {
			u.Yield()
		}
	}
	require.Equal(t, ResultRetry, u.Run(context.Background()))
	acked := f.get(seg.Token).BytesAcked
	require.NoError(t, store.Close())

	reopened, err := catalog.NewSqliteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	resumed, err := reopened.Get(context.Background(), seg.Token)
	require.NoError(t, err)
	assert.Equal(t, acked, resumed.BytesAcked)
	assert.Equal(t, catalog.StatePending, resumed.UploadState)

	f.srv.OnPatch = nil
	u = New(reopened, f.client, Config{})
	require.Equal(t, ResultSuccess, u.Run(context.Background()))

	done, err := reopened.Get(context.Background(), seg.Token)
	require.NoError(t, err)
	assert.Equal(t, catalog.StateCompleted, done.UploadState)
	ups := f.srv.Uploads()
	require.Len(t, ups, 1)
	assert.EqualValues(t, 100<<20, ups[0].Received)
	assert.Equal(t, fileSum(t, seg.Path), ups[0].SHA256())
}

func TestRunRecreatesExpiredUpload(t *testing.T) {
	f := newFixture(t, catalog.NewMemoryStore(), testChunk)
	seg := f.segment(6*testChunk, time.Now())
	u := New(f.store, f.client, Config{})
	f.srv.OnPatch = func(up tustest.Upload) {
		if up.Offset == 2*testChunk {
			u.Yield()
		}
	}
	require.Equal(t, ResultRetry, u.Run(context.Background()))
	first := f.get(seg.Token).RemoteHandle
	require.NotEmpty(t, first)
	f.srv.Expire(first)

	f.srv.OnPatch = nil
	require.Equal(t, ResultSuccess, u.Run(context.Background()))
	got := f.get(seg.Token)
	assert.Equal(t, catalog.StateCompleted, got.UploadState)
	assert.NotEqual(t, first, got.RemoteHandle)
	assert.Equal(t, 2, f.srv.Requests(http.MethodPost))
}

func TestRunThrottled(t *testing.T) {
	f := newFixture(t, catalog.NewMemoryStore(), testChunk)
	seg := f.segment(3*testChunk, time.Now())
	bw := NewBandwidth(0)
	u := New(f.store, f.client, Config{}, WithBandwidth(bw))
	require.Equal(t, ResultSuccess, u.Run(context.Background()))
	assert.Equal(t, catalog.StateCompleted, f.get(seg.Token).UploadState)
}
