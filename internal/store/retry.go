package store

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// transactionBackoff bounds how long a writer waits out lock contention.
func transactionBackoff() retry.Backoff {
	b := retry.NewExponential(10 * time.Millisecond)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(250*time.Millisecond, b)
	return retry.WithMaxRetries(6, b)
}

// withRetry runs fn again while retryable reports the failure as transient.
func withRetry(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, transactionBackoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
