// Package lock provides a Redis-backed advisory lease for the append
// critical section. Single-process deployments rely on the service mutex
// alone; when several writer processes share one store, the lease keeps
// their append windows disjoint so conflict retries stay rare. Correctness
// does not depend on it: the store's conditional append is the backstop.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease key only when still owned by the caller,
// so an expired lease taken over by another process is never released out
// from under it.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisLease implements ports.Lease on a single Redis key with SET NX PX.
type RedisLease struct {
	client *redis.Client
	key    string
	owner  string
	retry  time.Duration
}

// NewRedisLease creates a lease on the given key. Each lease value carries a
// unique owner token so releases cannot cross process boundaries.
func NewRedisLease(client *redis.Client, key string) *RedisLease {
	return &RedisLease{
		client: client,
		key:    key,
		owner:  uuid.NewString(),
		retry:  20 * time.Millisecond,
	}
}

// Acquire blocks until the lease is held or ctx is done. The TTL bounds how
// long a crashed holder can stall other writers.
func (l *RedisLease) Acquire(ctx context.Context, ttl time.Duration) error {
	for {
		ok, err := l.client.SetNX(ctx, l.key, l.owner, ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire append lease: %w", err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

// Release frees the lease if this process still holds it.
func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release append lease: %w", err)
	}
	return nil
}
