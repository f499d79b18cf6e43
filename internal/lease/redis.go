// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/segrelay/internal/log"
)

// DefaultPrefix namespaces lease keys.
const DefaultPrefix = "segrelay:lease:"

// Both scripts act only if the caller still owns the key.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisLocker shares leases between processes through SET NX PX.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker connects and pings the server.
func NewRedisLocker(ctx context.Context, cfg RedisConfig) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lease: redis connection failed: %w", err)
	}

	logger := log.WithComponent("lease")
	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis lease store")

	return newRedisLocker(client, cfg.Prefix), nil
}

func newRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	owner := uuid.NewString()
	full := r.prefix + key
	ok, err := r.client.SetNX(ctx, full, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lease: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &redisLease{client: r.client, key: key, full: full, owner: owner, ttl: ttl}, nil
}

// Close closes the Redis connection.
func (r *RedisLocker) Close() error {
	return r.client.Close()
}

type redisLease struct {
	client *redis.Client
	key    string
	full   string
	owner  string
	ttl    time.Duration
}

func (l *redisLease) Key() string { return l.key }

func (l *redisLease) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.full}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lease: refresh %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, l.client, []string{l.full}, l.owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lease: release %s: %w", l.key, err)
	}
	return nil
}
