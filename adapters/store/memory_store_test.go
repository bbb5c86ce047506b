package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veltis-io/veltis-api/core"
)

const testWallet = "0xabcdef0000000000000000000000000000000001"

func newNonce(value string, ttl time.Duration) *core.Nonce {
	now := time.Now()
	return &core.Nonce{
		WalletAddress: testWallet,
		Value:         value,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
}

func TestMemoryNonceStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNonceStore(time.Hour, nil)

	require.NoError(t, s.Put(ctx, newNonce("482913", 15*time.Minute)))

	got, err := s.Get(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, "482913", got.Value)
	assert.Equal(t, testWallet, got.WalletAddress)
}

func TestMemoryNonceStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNonceStore(time.Hour, nil)

	require.NoError(t, s.Put(ctx, newNonce("first", 15*time.Minute)))
	require.NoError(t, s.Put(ctx, newNonce("second", 15*time.Minute)))

	got, err := s.Get(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Value)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryNonceStore_ExpiredReadsAsAbsentBeforeSweep(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNonceStore(time.Hour, nil)

	require.NoError(t, s.Put(ctx, newNonce("482913", 20*time.Millisecond)))
	time.Sleep(40 * time.Millisecond)

	_, err := s.Get(ctx, testWallet)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 1, s.Len(), "expired entry is left for the sweep")
}

func TestMemoryNonceStore_SweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNonceStore(10*time.Millisecond, nil)

	require.NoError(t, s.Put(ctx, newNonce("482913", 5*time.Millisecond)))

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestMemoryNonceStore_PutAlreadyExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNonceStore(time.Hour, nil)

	require.NoError(t, s.Put(ctx, newNonce("live", time.Minute)))
	require.NoError(t, s.Put(ctx, newNonce("stale", -time.Minute)))

	_, err := s.Get(ctx, testWallet)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryNonceStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNonceStore(time.Hour, nil)

	require.NoError(t, s.Put(ctx, newNonce("482913", time.Minute)))
	require.NoError(t, s.Delete(ctx, testWallet))
	require.NoError(t, s.Delete(ctx, testWallet))

	_, err := s.Get(ctx, testWallet)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryNonceStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNonceStore(time.Hour, nil)

	require.NoError(t, s.Put(ctx, newNonce("482913", time.Minute)))

	got, err := s.Get(ctx, testWallet)
	require.NoError(t, err)
	got.Value = "tampered"

	again, err := s.Get(ctx, testWallet)
	require.NoError(t, err)
	assert.Equal(t, "482913", again.Value)
}

func TestMemoryNonceStore_UsesInjectedClock(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryNonceStore(time.Hour, func() time.Time { return now })

	require.NoError(t, s.Put(ctx, newNonce("482913", 15*time.Minute)))
	_, err := s.Get(ctx, testWallet)
	require.NoError(t, err)

	now = now.Add(16 * time.Minute)
	_, err = s.Get(ctx, testWallet)
	assert.ErrorIs(t, err, core.ErrNotFound)

	// A nonce that is already past its expiry on the store clock is not kept.
	require.NoError(t, s.Put(ctx, newNonce("stale", 10*time.Minute)))
	assert.Equal(t, 0, s.Len())
}
