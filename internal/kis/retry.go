package kis

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy controls how fetch and link failures are retried within a
// run. The schedule is exponential; MaxAttempts of zero or one disables
// retries entirely. Config errors are never retried regardless of policy.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy retries twice more after the initial attempt.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	Multiplier:      2.0,
}

// Do runs op under the policy, returning the last error when all attempts
// are exhausted. Wrapping an error with backoff.Permanent inside op stops
// retrying immediately.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	if p.MaxAttempts <= 1 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.MaxAttempts))
	return err
}

// Permanent marks err as non-retryable for RetryPolicy.Do.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
