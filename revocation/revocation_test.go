package revocation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careermate/authcore/clock"
)

var start = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis, *clock.Fake) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	c := clock.NewFake(start)
	return NewRedisStore(client, "authcore:", c), mr, c
}

func TestRevoke(t *testing.T) {
	t.Run("sets key with remaining lifetime as TTL", func(t *testing.T) {
		store, mr, _ := newTestStore(t)

		require.NoError(t, store.Revoke(context.Background(), "jti-1", start.Add(10*time.Minute)))

		assert.True(t, mr.Exists("authcore:rvk:jti-1"))
		assert.Equal(t, 10*time.Minute, mr.TTL("authcore:rvk:jti-1"))
	})

	t.Run("already expired token is a no-op", func(t *testing.T) {
		store, mr, _ := newTestStore(t)

		require.NoError(t, store.Revoke(context.Background(), "jti-old", start.Add(-time.Second)))

		assert.False(t, mr.Exists("authcore:rvk:jti-old"))
	})

	t.Run("revoking twice succeeds", func(t *testing.T) {
		store, mr, _ := newTestStore(t)
		ctx := context.Background()

		require.NoError(t, store.Revoke(ctx, "jti-2", start.Add(time.Minute)))
		require.NoError(t, store.Revoke(ctx, "jti-2", start.Add(time.Minute)))

		assert.True(t, mr.Exists("authcore:rvk:jti-2"))
	})
}

func TestIsRevoked(t *testing.T) {
	t.Run("unknown jti is not revoked", func(t *testing.T) {
		store, _, _ := newTestStore(t)

		revoked, err := store.IsRevoked(context.Background(), "unknown")

		require.NoError(t, err)
		assert.False(t, revoked)
	})

	t.Run("revoked until natural expiry", func(t *testing.T) {
		store, mr, _ := newTestStore(t)
		ctx := context.Background()

		require.NoError(t, store.Revoke(ctx, "jti-3", start.Add(5*time.Minute)))
		revoked, err := store.IsRevoked(ctx, "jti-3")
		require.NoError(t, err)
		assert.True(t, revoked)

		mr.FastForward(5*time.Minute + time.Second)

		revoked, err = store.IsRevoked(ctx, "jti-3")
		require.NoError(t, err)
		assert.False(t, revoked, "entry must disappear once the token has expired")
	})

	t.Run("fails closed when redis is down", func(t *testing.T) {
		store, mr, _ := newTestStore(t)
		mr.Close()

		revoked, err := store.IsRevoked(context.Background(), "jti-4")

		require.ErrorIs(t, err, ErrUnavailable)
		assert.True(t, revoked)
	})
}

func TestClaim(t *testing.T) {
	t.Run("only the first claim wins", func(t *testing.T) {
		store, mr, _ := newTestStore(t)
		ctx := context.Background()

		ok, err := store.Claim(ctx, "reset-1", start.Add(5*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 5*time.Minute, mr.TTL("authcore:rvk:reset-1"))

		ok, err = store.Claim(ctx, "reset-1", start.Add(5*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)

		revoked, err := store.IsRevoked(ctx, "reset-1")
		require.NoError(t, err)
		assert.True(t, revoked)
	})

	t.Run("concurrent claims have one winner", func(t *testing.T) {
		store, _, _ := newTestStore(t)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.Claim(context.Background(), "reset-2", start.Add(time.Minute))
				if err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, wins.Load())
	})

	t.Run("expired token cannot be claimed", func(t *testing.T) {
		store, mr, c := newTestStore(t)
		c.Advance(time.Hour)

		ok, err := store.Claim(context.Background(), "reset-3", start.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, mr.Exists("authcore:rvk:reset-3"))
	})
}
