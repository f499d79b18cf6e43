// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Store persists segments and works. Every Update runs its mutation and the
// resulting write as one atomic step; readers never observe partial updates.
type Store interface {
	Insert(ctx context.Context, seg *Segment) error
	Get(ctx context.Context, token string) (*Segment, error)
	GetByPath(ctx context.Context, path string) (*Segment, error)
	Update(ctx context.Context, token string, fn Mutation) (*Segment, error)
	Delete(ctx context.Context, token string) error
	List(ctx context.Context, f ListFilter) ([]*Segment, error)

	// MaxIndex returns the highest segment index of the work, or 0 if it has none.
	MaxIndex(ctx context.Context, workID string) (int, error)
	// OlderThan returns segments recorded before t, oldest first.
	OlderThan(ctx context.Context, t time.Time) ([]*Segment, error)
	// NextCandidate returns the oldest eligible segment, or nil.
	NextCandidate(ctx context.Context, maxRetry int) (*Segment, error)

	InsertWork(ctx context.Context, w *Work) error
	GetWork(ctx context.Context, id string) (*Work, error)
	UpdateWork(ctx context.Context, id string, fn WorkMutation) (*Work, error)
	ListWorks(ctx context.Context) ([]*Work, error)

	Close() error
}

// OpenStore creates a Store for the configured backend.
func OpenStore(backend, path string) (Store, error) {
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "memory":
		return NewMemoryStore(), nil
	case "badger":
		return OpenBadgerStore(path)
	case "sqlite":
		return NewSqliteStore(path)
	default:
		return nil, fmt.Errorf("unknown catalog backend: %s", backend)
	}
}

func validateNew(seg *Segment) error {
	if seg == nil || seg.Token == "" || seg.Path == "" {
		return fmt.Errorf("catalog: segment requires token and path")
	}
	if seg.UploadState == "" {
		seg.UploadState = StateNone
	}
	if !seg.UploadState.Valid() {
		return fmt.Errorf("catalog: invalid upload state %q", seg.UploadState)
	}
	seg.RecordedAt = seg.RecordedAt.UTC().Truncate(time.Millisecond)
	return nil
}

func validateWork(w *Work) error {
	if w == nil || w.ID == "" {
		return fmt.Errorf("catalog: work requires id")
	}
	if w.State == "" {
		w.State = WorkActive
	}
	w.StartedAt = w.StartedAt.UTC().Truncate(time.Millisecond)
	return nil
}

// older orders segments by RecordedAt, ties broken by token.
func older(a, b *Segment) bool {
	if !a.RecordedAt.Equal(b.RecordedAt) {
		return a.RecordedAt.Before(b.RecordedAt)
	}
	return a.Token < b.Token
}

func sortSegments(segs []*Segment) {
	sort.Slice(segs, func(i, j int) bool { return older(segs[i], segs[j]) })
}
