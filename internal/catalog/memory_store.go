// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	segments map[string]*Segment
	byPath   map[string]string
	works    map[string]*Work
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		segments: make(map[string]*Segment),
		byPath:   make(map[string]string),
		works:    make(map[string]*Work),
	}
}

func (m *MemoryStore) Insert(ctx context.Context, seg *Segment) error {
	if err := validateNew(seg); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.segments[seg.Token]; ok {
		return ErrDuplicate
	}
	if _, ok := m.byPath[seg.Path]; ok {
		return ErrDuplicate
	}
	m.segments[seg.Token] = seg.Clone()
	m.byPath[seg.Path] = seg.Token
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, token string) (*Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.segments[token]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) GetByPath(ctx context.Context, path string) (*Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.byPath[path]
	if !ok {
		return nil, ErrNotFound
	}
	return m.segments[tok].Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, token string, fn Mutation) (*Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.segments[token]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	// Identity is immutable.
	next.Token, next.Path = cur.Token, cur.Path
	m.segments[token] = next
	return next.Clone(), nil
}

func (m *MemoryStore) Delete(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.segments[token]
	if !ok {
		return ErrNotFound
	}
	delete(m.byPath, s.Path)
	delete(m.segments, token)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, f ListFilter) ([]*Segment, error) {
	m.mu.RLock()
	out := make([]*Segment, 0, len(m.segments))
	for _, s := range m.segments {
		if f.match(s) {
			out = append(out, s.Clone())
		}
	}
	m.mu.RUnlock()
	sortSegments(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) MaxIndex(ctx context.Context, workID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	maxIdx := 0
	for _, s := range m.segments {
		if s.WorkID == workID && s.Index != nil && *s.Index > maxIdx {
			maxIdx = *s.Index
		}
	}
	return maxIdx, nil
}

func (m *MemoryStore) OlderThan(ctx context.Context, t time.Time) ([]*Segment, error) {
	m.mu.RLock()
	var out []*Segment
	for _, s := range m.segments {
		if s.RecordedAt.Before(t) {
			out = append(out, s.Clone())
		}
	}
	m.mu.RUnlock()
	sortSegments(out)
	return out, nil
}

func (m *MemoryStore) NextCandidate(ctx context.Context, maxRetry int) (*Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Segment
	for _, s := range m.segments {
		if !s.Eligible(maxRetry) {
			continue
		}
		if best == nil || older(s, best) {
			best = s
		}
	}
	return best.Clone(), nil
}

func (m *MemoryStore) InsertWork(ctx context.Context, w *Work) error {
	if err := validateWork(w); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.works[w.ID]; ok {
		return ErrDuplicate
	}
	c := *w
	m.works[w.ID] = &c
	return nil
}

func (m *MemoryStore) GetWork(ctx context.Context, id string) (*Work, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.works[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *w
	return &c, nil
}

func (m *MemoryStore) UpdateWork(ctx context.Context, id string, fn WorkMutation) (*Work, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.works[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := *w
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.ID = w.ID
	m.works[id] = &next
	out := next
	return &out, nil
}

func (m *MemoryStore) ListWorks(ctx context.Context) ([]*Work, error) {
	m.mu.RLock()
	out := make([]*Work, 0, len(m.works))
	for _, w := range m.works {
		c := *w
		out = append(out, &c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
