package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/veltis-io/veltis-api/core"
	"github.com/veltis-io/veltis-api/metrics"
	"github.com/veltis-io/veltis-api/ports"
	"go.uber.org/zap"
)

// NonceChain orders the nonce stores: the durable store is tried first and
// the volatile store takes over whenever the durable one cannot answer.
// A nil durable store runs the chain on the volatile store alone.
type NonceChain struct {
	durable  ports.NonceStore
	volatile ports.NonceStore
	retry    RetryPolicy
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewNonceChain creates a chain over durable and volatile. now decides
// expiry of durable records; nil means time.Now.
func NewNonceChain(
	durable ports.NonceStore,
	volatile ports.NonceStore,
	retry RetryPolicy,
	logger *zap.Logger,
	m *metrics.Metrics,
	now func() time.Time,
) *NonceChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &NonceChain{
		durable:  durable,
		volatile: volatile,
		retry:    retry,
		logger:   logger.Named("nonces"),
		metrics:  m,
		now:      now,
	}
}

func (c *NonceChain) notify(op string) backoff.Notify {
	return func(err error, next time.Duration) {
		c.logger.Warn("durable nonce store call failed, retrying",
			zap.String("store", c.durable.Name()),
			zap.String("op", op),
			zap.Duration("next", next),
			zap.Error(err),
		)
	}
}

// Issue persists nonce and returns the store that now holds it. Any nonce
// previously issued to the wallet is superseded.
func (c *NonceChain) Issue(ctx context.Context, nonce *core.Nonce) (ports.NonceStore, error) {
	wallet := nonce.WalletAddress

	if c.durable != nil {
		// Clearing the previous record is best-effort; the insert replaces it anyway.
		if err := retry(ctx, c.retry, c.notify("delete"), func() error {
			return c.durable.Delete(ctx, wallet)
		}); err != nil {
			c.metrics.IncStoreError(c.durable.Name(), "delete")
			c.logger.Warn("failed to clear previous nonce", zap.String("wallet", wallet), zap.Error(err))
		}

		err := retry(ctx, c.retry, c.notify("put"), func() error {
			return c.durable.Put(ctx, nonce)
		})
		if err == nil {
			// Lookups prefer the durable store, so a volatile leftover would only go stale.
			if err := c.volatile.Delete(ctx, wallet); err != nil {
				c.logger.Debug("failed to drop volatile nonce", zap.String("wallet", wallet), zap.Error(err))
			}
			c.metrics.IncNonceIssued(c.durable.Name())
			return c.durable, nil
		}

		c.metrics.IncStoreError(c.durable.Name(), "put")
		c.logger.Warn("durable nonce store unavailable, using volatile store",
			zap.String("wallet", wallet),
			zap.Error(err),
		)
	}

	if err := c.volatile.Put(ctx, nonce); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrNonceIssuanceFailed, err)
	}
	c.metrics.IncNonceIssued(c.volatile.Name())
	return c.volatile, nil
}

// Lookup finds the live nonce for wallet and the store that served it.
// When both stores hold a record the newer one wins and the other is
// dropped. When nothing is found the error wraps core.ErrNonceNotFound; if
// the durable store failed along the way it also wraps core.ErrStoreUnavailable.
func (c *NonceChain) Lookup(ctx context.Context, wallet string) (*core.Nonce, ports.NonceStore, error) {
	var (
		durableNonce *core.Nonce
		durableErr   error
	)

	if c.durable != nil {
		nonce, err := retryValue(ctx, c.retry, c.notify("get"), func() (*core.Nonce, error) {
			return c.durable.Get(ctx, wallet)
		})
		switch {
		case err == nil && !nonce.Expired(c.now()):
			durableNonce = nonce
		case err == nil:
			c.metrics.IncNonceLookup(c.durable.Name(), "expired")
			c.delete(ctx, c.durable, wallet)
		case errors.Is(err, core.ErrNotFound):
			c.metrics.IncNonceLookup(c.durable.Name(), "miss")
		default:
			c.metrics.IncStoreError(c.durable.Name(), "get")
			c.logger.Warn("durable nonce lookup failed, checking volatile store",
				zap.String("wallet", wallet),
				zap.Error(err),
			)
			durableErr = err
			if !errors.Is(err, core.ErrStoreUnavailable) {
				durableErr = fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
			}
		}
	}

	volatileNonce, err := c.volatile.Get(ctx, wallet)
	if err != nil || volatileNonce.Expired(c.now()) {
		volatileNonce = nil
	}

	switch {
	case durableNonce != nil && volatileNonce != nil:
		// A durable outage during issuance leaves the previous nonce behind in
		// the durable store; only the most recently issued one stays usable.
		if volatileNonce.CreatedAt.After(durableNonce.CreatedAt) {
			c.logger.Info("dropping superseded durable nonce", zap.String("wallet", wallet))
			c.delete(ctx, c.durable, wallet)
			c.metrics.IncNonceLookup(c.volatile.Name(), "hit")
			return volatileNonce, c.volatile, nil
		}
		c.delete(ctx, c.volatile, wallet)
		c.metrics.IncNonceLookup(c.durable.Name(), "hit")
		return durableNonce, c.durable, nil
	case durableNonce != nil:
		c.metrics.IncNonceLookup(c.durable.Name(), "hit")
		return durableNonce, c.durable, nil
	case volatileNonce != nil:
		c.metrics.IncNonceLookup(c.volatile.Name(), "hit")
		return volatileNonce, c.volatile, nil
	}
	c.metrics.IncNonceLookup(c.volatile.Name(), "miss")

	if durableErr != nil {
		return nil, nil, fmt.Errorf("%w: %w", core.ErrNonceNotFound, durableErr)
	}
	return nil, nil, core.ErrNonceNotFound
}

// Consume deletes the nonce for wallet from every store, so a record left
// behind by an earlier outage cannot be redeemed later. Failures are
// logged; the nonce then lapses at its expiry.
func (c *NonceChain) Consume(ctx context.Context, wallet string) {
	if c.durable != nil {
		c.delete(ctx, c.durable, wallet)
	}
	c.delete(ctx, c.volatile, wallet)
}

func (c *NonceChain) delete(ctx context.Context, from ports.NonceStore, wallet string) {
	var err error
	if c.durable != nil && from == c.durable {
		err = retry(ctx, c.retry, c.notify("delete"), func() error {
			return from.Delete(ctx, wallet)
		})
	} else {
		err = from.Delete(ctx, wallet)
	}
	if err != nil {
		c.metrics.IncStoreError(from.Name(), "delete")
		c.logger.Warn("failed to consume nonce",
			zap.String("store", from.Name()),
			zap.String("wallet", wallet),
			zap.Error(err),
		)
	}
}
