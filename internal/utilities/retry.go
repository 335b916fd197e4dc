package utilities

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryWithBackoff retries fn until it succeeds, ctx ends or maxRetry attempts
// are used up, returning the last error. The delay doubles up to maxBackoff.
func RetryWithBackoff(ctx context.Context, fn func() error, maxRetry int, startBackoff, maxBackoff time.Duration) error {
	if maxRetry <= 0 {
		return nil
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = startBackoff
	exp.MaxInterval = maxBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(maxRetry)),
		backoff.WithMaxElapsedTime(0),
	)
	return err
}
