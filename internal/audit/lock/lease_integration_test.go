//go:build integration

package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainlog/pkg/testutil/containers"
)

func TestRedisLease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	rc := containers.NewRedisContainer(t)
	ctx := context.Background()

	t.Run("acquire and release", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))
		lease := NewRedisLease(rc.Client, "audit:append-lease")

		require.NoError(t, lease.Acquire(ctx, 5*time.Second))
		require.NoError(t, lease.Release(ctx))

		// the key must be gone after release
		n, err := rc.Client.Exists(ctx, "audit:append-lease").Result()
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("held lease blocks a second owner until released", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))
		first := NewRedisLease(rc.Client, "audit:append-lease")
		second := NewRedisLease(rc.Client, "audit:append-lease")

		require.NoError(t, first.Acquire(ctx, 5*time.Second))

		acquired := make(chan struct{})
		go func() {
			if err := second.Acquire(ctx, 5*time.Second); err == nil {
				close(acquired)
			}
		}()

		select {
		case <-acquired:
			t.Fatal("second owner acquired a held lease")
		case <-time.After(100 * time.Millisecond):
		}

		require.NoError(t, first.Release(ctx))

		select {
		case <-acquired:
		case <-time.After(2 * time.Second):
			t.Fatal("second owner never acquired the lease after release")
		}
		require.NoError(t, second.Release(ctx))
	})

	t.Run("release does not free a lease owned by someone else", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))
		first := NewRedisLease(rc.Client, "audit:append-lease")
		second := NewRedisLease(rc.Client, "audit:append-lease")

		require.NoError(t, first.Acquire(ctx, 5*time.Second))
		require.NoError(t, second.Release(ctx), "releasing an unheld lease is a no-op")

		n, err := rc.Client.Exists(ctx, "audit:append-lease").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "the first owner still holds the lease")

		require.NoError(t, first.Release(ctx))
	})

	t.Run("expired lease can be reacquired", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))
		crashed := NewRedisLease(rc.Client, "audit:append-lease")
		next := NewRedisLease(rc.Client, "audit:append-lease")

		require.NoError(t, crashed.Acquire(ctx, 200*time.Millisecond))
		// no release: the holder "crashed" and the TTL must clear the way

		acquireCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		require.NoError(t, next.Acquire(acquireCtx, 5*time.Second))
		require.NoError(t, next.Release(ctx))
	})

	t.Run("acquire respects context cancellation", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))
		holder := NewRedisLease(rc.Client, "audit:append-lease")
		waiter := NewRedisLease(rc.Client, "audit:append-lease")

		require.NoError(t, holder.Acquire(ctx, 30*time.Second))

		waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
		defer cancel()
		err := waiter.Acquire(waitCtx, 5*time.Second)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		require.NoError(t, holder.Release(ctx))
	})

	t.Run("concurrent holders never overlap", func(t *testing.T) {
		require.NoError(t, rc.FlushAll(ctx))

		var (
			mu      sync.Mutex
			holding int
			maxHeld int
		)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				lease := NewRedisLease(rc.Client, "audit:append-lease")
				require.NoError(t, lease.Acquire(ctx, 5*time.Second))

				mu.Lock()
				holding++
				if holding > maxHeld {
					maxHeld = holding
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				holding--
				mu.Unlock()
				require.NoError(t, lease.Release(ctx))
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, maxHeld)
	})
}
