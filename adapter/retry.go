package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryInterval is the delay before the first retry. Later retries double
// it.
const RetryInterval = 500 * time.Millisecond

// permanentError marks an error no retry can fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent stops Retry at err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn up to 1+retries times, sleeping with exponential backoff
// between attempts. It stops early when ctx is done or fn returns an error
// wrapped by Permanent.
func Retry(ctx context.Context, retries int, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInterval
	b.RandomizationFactor = 0
	b.Multiplier = 2

	attempts := 1 + retries
	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(b.NextBackOff()):
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return fmt.Errorf("non-retriable error: %w", perm.err)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
