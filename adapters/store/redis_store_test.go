package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veltis-io/veltis-api/core"
)

func newRedisStore(t *testing.T) (*RedisNonceStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisNonceStore(client), mr
}

func TestRedisNonceStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	n := newNonce("482913", 15*time.Minute)
	require.NoError(t, s.Put(ctx, n))
	assert.True(t, mr.Exists("veltis:nonce:"+testWallet))

	got, err := s.Get(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, "482913", got.Value)
	assert.WithinDuration(t, n.ExpiresAt, got.ExpiresAt, time.Millisecond)

	require.NoError(t, s.Delete(ctx, testWallet))
	require.NoError(t, s.Delete(ctx, testWallet))

	_, err = s.Get(ctx, testWallet)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRedisNonceStore_KeyExpires(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	require.NoError(t, s.Put(ctx, newNonce("482913", 15*time.Minute)))
	mr.FastForward(16 * time.Minute)

	_, err := s.Get(ctx, testWallet)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRedisNonceStore_RejectsExpiredNonce(t *testing.T) {
	s, _ := newRedisStore(t)

	err := s.Put(context.Background(), newNonce("482913", -time.Second))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestRedisNonceStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)
	mr.SetError("LOADING server is loading")

	assert.ErrorIs(t, s.Put(ctx, newNonce("482913", time.Minute)), core.ErrStoreUnavailable)

	_, err := s.Get(ctx, testWallet)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, core.ErrNotFound)
}
