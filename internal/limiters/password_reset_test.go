package limiters

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordResetLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewPasswordResetLimiter(client, PasswordResetConfig{
		KeyPrefix:         "authcore:",
		RequestsPerWindow: 2,
		Window:            15 * time.Minute,
	})
	ctx := context.Background()

	require.NoError(t, l.CheckRequest(ctx, "a@x.com"))
	require.NoError(t, l.CheckRequest(ctx, "a@x.com"))
	assert.ErrorIs(t, l.CheckRequest(ctx, "a@x.com"), ErrResetRateLimited)
	assert.NoError(t, l.CheckRequest(ctx, "b@x.com"))

	for _, k := range mr.Keys() {
		assert.NotContains(t, k, "a@x.com")
		assert.Contains(t, k, "authcore:rl:reset:")
	}

	mr.FastForward(15 * time.Minute)
	assert.NoError(t, l.CheckRequest(ctx, "a@x.com"))
}

func TestPasswordResetLimiterNilAndUnavailable(t *testing.T) {
	var nilLimiter *PasswordResetLimiter
	assert.NoError(t, nilLimiter.CheckRequest(context.Background(), "a@x.com"))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewPasswordResetLimiter(client, PasswordResetConfig{RequestsPerWindow: 1, Window: time.Minute})
	mr.Close()

	assert.ErrorIs(t, l.CheckRequest(context.Background(), "a@x.com"), ErrResetRedisUnavailable)
}
