// Package retry re-runs an operation with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (permanentError *PermanentError) Error() string { return permanentError.Err.Error() }
func (permanentError *PermanentError) Unwrap() error { return permanentError.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Do calls fn up to maxAttempts times. It stops on success, on a Permanent error
// (returning the unwrapped error), or when ctx is done. The delay starts at
// baseDelay and doubles per attempt with +-25% jitter.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var err error
	delay := baseDelay
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var permanentError *PermanentError
		if errors.As(err, &permanentError) {
			return permanentError.Err
		}
		if attempt == maxAttempts-1 {
			break
		}
		if delay > 0 {
			jitter := delay / 4
			sleep := delay - jitter + time.Duration(rand.Int64N(int64(2*jitter)+1))
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		} else if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

// OnlyRetry returns a function suitable for Do that retries fn only while its
// error matches one of the retryable sentinels.
func OnlyRetry(fn func() error, retryable ...error) func() error {
	return func() error {
		err := fn()
		if err == nil {
			return nil
		}
		for _, target := range retryable {
			if errors.Is(err, target) {
				return err
			}
		}
		return Permanent(err)
	}
}
