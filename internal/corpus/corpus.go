// Package corpus tracks a per-user corpus version. Every committed mutation
// of a user's bookmarks or tag associations bumps the version; searches read
// it once and compare it against cached entries to detect staleness.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// VersionSource reads the current corpus version of a user
type VersionSource interface {
	CurrentVersion(ctx context.Context, userID int64) (uint64, error)
}

// Invalidator is the mutation side: Bump increments a user's version and
// returns the new value.
type Invalidator interface {
	Bump(ctx context.Context, userID int64) (uint64, error)
}

// Versions combines both sides of the counter
type Versions interface {
	VersionSource
	Invalidator
}

// Counter is an in-process version counter. Reads never take a lock.
type Counter struct {
	versions sync.Map // int64 -> *atomic.Uint64
}

// NewCounter creates an empty counter; unknown users are at version zero
func NewCounter() *Counter {
	return &Counter{}
}

// CurrentVersion returns the user's version
func (c *Counter) CurrentVersion(_ context.Context, userID int64) (uint64, error) {
	v, ok := c.versions.Load(userID)
	if !ok {
		return 0, nil
	}
	return v.(*atomic.Uint64).Load(), nil
}

// Bump increments the user's version
func (c *Counter) Bump(_ context.Context, userID int64) (uint64, error) {
	v, ok := c.versions.Load(userID)
	if !ok {
		v, _ = c.versions.LoadOrStore(userID, new(atomic.Uint64))
	}
	return v.(*atomic.Uint64).Add(1), nil
}

// RedisCounter keeps versions in Redis so every process sharing a cache
// also shares the versions guarding it.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter creates a counter storing keys as <prefix>version:<user>
func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

func (c *RedisCounter) key(userID int64) string {
	return c.prefix + "version:" + strconv.FormatInt(userID, 10)
}

// CurrentVersion returns the user's version; a missing key is version zero
func (c *RedisCounter) CurrentVersion(ctx context.Context, userID int64) (uint64, error) {
	v, err := c.client.Get(ctx, c.key(userID)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read corpus version: %w", err)
	}
	return v, nil
}

// Bump increments the user's version with INCR
func (c *RedisCounter) Bump(ctx context.Context, userID int64) (uint64, error) {
	v, err := c.client.Incr(ctx, c.key(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to bump corpus version: %w", err)
	}
	return uint64(v), nil
}
