package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/veltis-io/veltis-api/core"
)

// RetryPolicy controls how durable store calls are retried.
// The delay before attempt n (n >= 2) is BaseDelay * Multiplier^(n-2).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy makes three attempts, waiting 1s then 2s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	attempts := max(p.MaxAttempts, 1)
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = multiplier

	// Never cap below the last delay the policy can produce.
	maxInterval := float64(p.BaseDelay)
	for i := 2; i < attempts; i++ {
		maxInterval *= multiplier
	}
	b.MaxInterval = time.Duration(maxInterval)
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Millisecond
	}
	return b
}

func (p RetryPolicy) options(notify backoff.Notify) []backoff.RetryOption {
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(max(p.MaxAttempts, 1))),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}
	return opts
}

// retryValue runs op under the policy. Only errors wrapping
// core.ErrStoreUnavailable are retried; any other error, not-found
// included, is returned after the first attempt.
func retryValue[T any](ctx context.Context, p RetryPolicy, notify backoff.Notify, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, core.ErrStoreUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, p.options(notify)...)
}

// retry is retryValue for operations without a result
func retry(ctx context.Context, p RetryPolicy, notify backoff.Notify, op func() error) error {
	_, err := retryValue(ctx, p, notify, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
