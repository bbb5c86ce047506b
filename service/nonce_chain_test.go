package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veltis-io/veltis-api/core"
)

const chainWallet = "0x00000000000000000000000000000000000000aa"

func liveNonce(value string) *core.Nonce {
	now := time.Now()
	return &core.Nonce{
		WalletAddress: chainWallet,
		Value:         value,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Minute),
	}
}

func newTestChain() (*NonceChain, *mapStore, *mapStore) {
	durable := newMapStore("durable")
	volatile := newMapStore("volatile")
	return NewNonceChain(durable, volatile, fastRetry, nil, nil, nil), durable, volatile
}

func TestChainIssuePrefersDurable(t *testing.T) {
	chain, durable, volatile := newTestChain()
	ctx := context.Background()

	require.NoError(t, volatile.Put(ctx, liveNonce("stale")))

	store, err := chain.Issue(ctx, liveNonce("1"))
	require.NoError(t, err)
	assert.Same(t, durable, store)
	assert.True(t, durable.has(chainWallet))
	assert.False(t, volatile.has(chainWallet), "volatile leftover should be dropped")
}

func TestChainIssueFallsBackToVolatile(t *testing.T) {
	chain, durable, volatile := newTestChain()
	durable.down()

	store, err := chain.Issue(context.Background(), liveNonce("1"))
	require.NoError(t, err)
	assert.Same(t, volatile, store)
	assert.True(t, volatile.has(chainWallet))
	assert.Equal(t, 3, durable.count("put"))
}

func TestChainIssueFailsWhenBothStoresFail(t *testing.T) {
	chain, durable, volatile := newTestChain()
	durable.down()
	volatile.down()

	_, err := chain.Issue(context.Background(), liveNonce("1"))
	require.ErrorIs(t, err, core.ErrNonceIssuanceFailed)
}

func TestChainLookupPrefersNewerRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("durable newer", func(t *testing.T) {
		chain, durable, volatile := newTestChain()
		older := liveNonce("volatile")
		older.CreatedAt = older.CreatedAt.Add(-time.Second)
		require.NoError(t, volatile.Put(ctx, older))
		require.NoError(t, durable.Put(ctx, liveNonce("durable")))

		n, from, err := chain.Lookup(ctx, chainWallet)
		require.NoError(t, err)
		assert.Equal(t, "durable", n.Value)
		assert.Same(t, durable, from)
		assert.False(t, volatile.has(chainWallet), "older volatile record is dropped")
	})

	t.Run("volatile newer", func(t *testing.T) {
		chain, durable, volatile := newTestChain()
		older := liveNonce("durable")
		older.CreatedAt = older.CreatedAt.Add(-time.Second)
		require.NoError(t, durable.Put(ctx, older))
		require.NoError(t, volatile.Put(ctx, liveNonce("volatile")))

		n, from, err := chain.Lookup(ctx, chainWallet)
		require.NoError(t, err)
		assert.Equal(t, "volatile", n.Value)
		assert.Same(t, volatile, from)
		assert.False(t, durable.has(chainWallet), "older durable record is dropped")
	})
}

func TestChainSingleLiveNonceAfterPartialOutage(t *testing.T) {
	chain, durable, volatile := newTestChain()
	ctx := context.Background()

	first := liveNonce("first")
	_, err := chain.Issue(ctx, first)
	require.NoError(t, err)

	// Writes fail while the second nonce is issued, so the first one stays
	// in the durable store.
	durable.failPut, durable.failDel = true, true
	second := liveNonce("second")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	store, err := chain.Issue(ctx, second)
	require.NoError(t, err)
	require.Same(t, volatile, store)
	durable.up()

	n, from, err := chain.Lookup(ctx, chainWallet)
	require.NoError(t, err)
	assert.Equal(t, "second", n.Value)
	assert.Same(t, volatile, from)
	assert.False(t, durable.has(chainWallet), "superseded durable nonce is dropped")

	chain.Consume(ctx, chainWallet)
	assert.False(t, volatile.has(chainWallet))

	_, _, err = chain.Lookup(ctx, chainWallet)
	assert.ErrorIs(t, err, core.ErrNonceNotFound)
}

func TestChainLookupFallsThroughOnMiss(t *testing.T) {
	chain, _, volatile := newTestChain()
	ctx := context.Background()
	require.NoError(t, volatile.Put(ctx, liveNonce("volatile")))

	n, from, err := chain.Lookup(ctx, chainWallet)
	require.NoError(t, err)
	assert.Equal(t, "volatile", n.Value)
	assert.Same(t, volatile, from)
}

func TestChainLookupFallsThroughOnError(t *testing.T) {
	chain, durable, volatile := newTestChain()
	ctx := context.Background()
	durable.down()
	require.NoError(t, volatile.Put(ctx, liveNonce("volatile")))

	n, from, err := chain.Lookup(ctx, chainWallet)
	require.NoError(t, err)
	assert.Equal(t, "volatile", n.Value)
	assert.Same(t, volatile, from)
	assert.Equal(t, 3, durable.count("get"))
}

func TestChainLookupNotFound(t *testing.T) {
	chain, durable, _ := newTestChain()

	_, _, err := chain.Lookup(context.Background(), chainWallet)
	require.ErrorIs(t, err, core.ErrNonceNotFound)
	assert.NotErrorIs(t, err, core.ErrStoreUnavailable)
	assert.Equal(t, 1, durable.count("get"), "a miss is not retried")
}

func TestChainLookupReportsUnavailableDurable(t *testing.T) {
	chain, durable, _ := newTestChain()
	durable.down()

	_, _, err := chain.Lookup(context.Background(), chainWallet)
	require.ErrorIs(t, err, core.ErrNonceNotFound)
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestChainLookupDeletesExpiredDurableRecord(t *testing.T) {
	chain, durable, _ := newTestChain()
	ctx := context.Background()

	expired := liveNonce("old")
	expired.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, durable.Put(ctx, expired))

	_, _, err := chain.Lookup(ctx, chainWallet)
	require.ErrorIs(t, err, core.ErrNonceNotFound)
	assert.False(t, durable.has(chainWallet))
}

func TestChainConsumeDeletesFromBothStores(t *testing.T) {
	chain, durable, volatile := newTestChain()
	ctx := context.Background()
	require.NoError(t, durable.Put(ctx, liveNonce("durable")))
	require.NoError(t, volatile.Put(ctx, liveNonce("volatile")))

	chain.Consume(ctx, chainWallet)
	assert.False(t, volatile.has(chainWallet))
	assert.False(t, durable.has(chainWallet))
}

func TestChainConsumeIgnoresFailures(t *testing.T) {
	chain, durable, volatile := newTestChain()
	ctx := context.Background()
	require.NoError(t, volatile.Put(ctx, liveNonce("volatile")))
	durable.down()

	assert.NotPanics(t, func() {
		chain.Consume(ctx, chainWallet)
	})
	assert.Equal(t, 3, durable.count("delete"))
	assert.False(t, volatile.has(chainWallet))
}

func TestChainExpiryUsesInjectedClock(t *testing.T) {
	durable := newMapStore("durable")
	clock := newTestClock()
	chain := NewNonceChain(durable, newMapStore("volatile"), fastRetry, nil, nil, clock.Now)
	ctx := context.Background()

	require.NoError(t, durable.Put(ctx, liveNonce("1")))
	_, _, err := chain.Lookup(ctx, chainWallet)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, _, err = chain.Lookup(ctx, chainWallet)
	assert.ErrorIs(t, err, core.ErrNonceNotFound)
	assert.False(t, durable.has(chainWallet))
}

func TestChainWithoutDurableStore(t *testing.T) {
	volatile := newMapStore("volatile")
	chain := NewNonceChain(nil, volatile, fastRetry, nil, nil, nil)
	ctx := context.Background()

	store, err := chain.Issue(ctx, liveNonce("1"))
	require.NoError(t, err)
	assert.Same(t, volatile, store)

	n, from, err := chain.Lookup(ctx, chainWallet)
	require.NoError(t, err)
	assert.Equal(t, "1", n.Value)
	assert.Same(t, volatile, from)
}
