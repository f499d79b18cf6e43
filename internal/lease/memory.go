// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lease

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	owner      string
	expiration time.Time
}

// MemoryLocker is an in-process Locker.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expiration) {
		return nil, ErrHeld
	}
	owner := uuid.NewString()
	m.entries[key] = memoryEntry{owner: owner, expiration: now.Add(ttl)}
	return &memoryLease{m: m, key: key, owner: owner, ttl: ttl}, nil
}

func (m *MemoryLocker) Close() error { return nil }

type memoryLease struct {
	m     *MemoryLocker
	key   string
	owner string
	ttl   time.Duration
}

func (l *memoryLease) Key() string { return l.key }

func (l *memoryLease) Refresh(context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	now := l.m.now()
	e, ok := l.m.entries[l.key]
	if !ok || e.owner != l.owner || !now.Before(e.expiration) {
		return ErrLost
	}
	e.expiration = now.Add(l.ttl)
	l.m.entries[l.key] = e
	return nil
}

func (l *memoryLease) Release(context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if e, ok := l.m.entries[l.key]; ok && e.owner == l.owner {
		delete(l.m.entries, l.key)
	}
	return nil
}
