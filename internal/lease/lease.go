// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package lease provides expiring exclusive locks keyed by resource name.
// The uploader holds one per segment token for the duration of an attempt.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrHeld is returned when another owner holds an unexpired lease.
	ErrHeld = errors.New("lease: held by another owner")
	// ErrLost is returned when a lease expired or was taken over.
	ErrLost = errors.New("lease: lost")
)

// DefaultTTL bounds how long a crashed owner blocks a resource.
const DefaultTTL = 2 * time.Minute

// Locker hands out leases.
type Locker interface {
	// Acquire takes the lease for key or fails with ErrHeld.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
	Close() error
}

// Lease is a held lock.
type Lease interface {
	Key() string
	// Refresh extends the lease by its TTL, or fails with ErrLost.
	Refresh(ctx context.Context) error
	// Release drops the lease if still owned. Releasing twice is a no-op.
	Release(ctx context.Context) error
}

// Config selects a backend.
type Config struct {
	Backend   string // memory (default) or redis
	RedisAddr string
	RedisDB   int
	Prefix    string
}

// Open builds the configured Locker.
func Open(ctx context.Context, cfg Config) (Locker, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryLocker(), nil
	case "redis":
		return NewRedisLocker(ctx, RedisConfig{Addr: cfg.RedisAddr, DB: cfg.RedisDB, Prefix: cfg.Prefix})
	default:
		return nil, fmt.Errorf("lease: unknown backend %q", cfg.Backend)
	}
}
