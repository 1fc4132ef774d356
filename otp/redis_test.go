package otp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var issued = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})
	return NewRedisStore(client, "authcore:", time.Hour), mr
}

func record(code string) Record {
	return Record{
		AccountID: "acct-1",
		CodeHash:  HashCode(code),
		IssuedAt:  issued,
		ExpiresAt: issued.Add(70 * time.Second),
	}
}

func TestSaveSupersedes(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, record("111111")))
	require.NoError(t, store.Save(ctx, record("123456")))

	raw, err := mr.Get("authcore:otp:acct-1")
	require.NoError(t, err)
	got, err := decodeRecord([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, HashCode("123456"), got.CodeHash)
	assert.True(t, got.ExpiresAt.Equal(issued.Add(70*time.Second)))
	assert.Equal(t, 70*time.Second+time.Hour, mr.TTL("authcore:otp:acct-1"))

	_, err = store.Consume(ctx, "acct-1", HashCode("111111"), issued, 5)
	assert.ErrorIs(t, err, ErrMismatch, "superseded code must not verify")
}

func TestConsumeSingleUse(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, record("123456")))

	_, err := store.Consume(ctx, "acct-1", HashCode("000000"), issued.Add(time.Second), 5)
	require.ErrorIs(t, err, ErrMismatch)

	rec, err := store.Consume(ctx, "acct-1", HashCode("123456"), issued.Add(2*time.Second), 5)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", rec.AccountID)
	assert.Equal(t, uint16(1), rec.Attempts)

	_, err = store.Consume(ctx, "acct-1", HashCode("123456"), issued.Add(3*time.Second), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsumeExpiredDeletes(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, record("123456")))

	_, err := store.Consume(ctx, "acct-1", HashCode("123456"), issued.Add(71*time.Second), 5)
	require.ErrorIs(t, err, ErrExpired)
	assert.False(t, mr.Exists("authcore:otp:acct-1"), "stale passcode must be deleted")
}

func TestConsumeAttemptsExceeded(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, record("123456")))

	for i := 0; i < 2; i++ {
		_, err := store.Consume(ctx, "acct-1", HashCode("000000"), issued, 3)
		require.ErrorIs(t, err, ErrMismatch)
	}
	_, err := store.Consume(ctx, "acct-1", HashCode("000000"), issued, 3)
	require.ErrorIs(t, err, ErrAttemptsExceeded)
	assert.False(t, mr.Exists("authcore:otp:acct-1"))
}

func TestConsumeKeepsTTLOnMismatch(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, record("123456")))
	mr.FastForward(10 * time.Second)

	_, err := store.Consume(ctx, "acct-1", HashCode("000000"), issued, 5)
	require.ErrorIs(t, err, ErrMismatch)
	assert.Equal(t, 70*time.Second+time.Hour-10*time.Second, mr.TTL("authcore:otp:acct-1"))
}

func TestConsumeConcurrentSingleWinner(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, record("123456")))

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Consume(ctx, "acct-1", HashCode("123456"), issued, 5)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestDelete(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, record("123456")))

	require.NoError(t, store.Delete(ctx, "acct-1"))
	require.NoError(t, store.Delete(ctx, "acct-1"))
	assert.False(t, mr.Exists("authcore:otp:acct-1"))

	_, err := store.Consume(ctx, "acct-1", HashCode("123456"), issued, 5)
	assert.ErrorIs(t, err, ErrNotFound)
}
