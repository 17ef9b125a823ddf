package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"

	"github.com/dgallion1/irdigest/internal/extract"
)

// IsRetryable checks if an error is worth retrying. Caller cancellation,
// rejected requests, and oversized contexts are not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var reqErr *extract.RequestError
	if errors.As(err, &reqErr) {
		return false
	}
	var tooLarge *extract.ContextTooLargeError
	if errors.As(err, &tooLarge) {
		return false
	}
	var retryErr *extract.RetryableError
	if errors.As(err, &retryErr) {
		return true
	}
	if errors.Is(err, extract.ErrCallTimeout) || errors.Is(err, extract.ErrEmptyResponse) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// RetryPolicy bounds retries of one model call.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Base: time.Second, Max: 30 * time.Second}
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := p.Base << uint(min(attempt, 30))
	if base <= 0 || base > p.Max {
		base = p.Max
	}
	half := int64(base) / 2
	if half <= 0 {
		return base
	}
	return base + time.Duration(rand.Int64N(half))
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)
	var lastErr error
	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil || !IsRetryable(lastErr) || attempt == attempts-1 {
			return lastErr
		}
		select {
		case <-time.After(p.Backoff(attempt)):
		case <-ctx.Done():
			return lastErr
		}
	}
	return lastErr
}
