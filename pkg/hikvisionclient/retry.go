package hikvisionclient

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// RetryPolicy bounds how often a single Artemis call is re-attempted.
// MaxRetries counts attempts after the first; zero disables retrying.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		b.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	return b
}

// withRetry runs op until it succeeds, fails with a non-retryable error, or the policy
// is exhausted. Only ExternalCallErrors marked retryable are attempted again.
func withRetry[T any](ctx context.Context, policy RetryPolicy, log *zap.Logger, op func() (T, error)) (T, error) {
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		res, err := op()
		if err == nil {
			return res, nil
		}
		var callErr *ExternalCallError
		if !errors.As(err, &callErr) || !callErr.retryable {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(maxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("retrying hikcentral call",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
}
