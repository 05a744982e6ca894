package support

import (
	"context"
	"time"
)

// RetryPolicy configures a simple exponential backoff retry loop.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy is a conservative default for internal, non-HTTP retries
// (the HTTP fetcher in internal/fetch has its own policy with jitter).
var DefaultRetryPolicy = RetryPolicy{
	Attempts:       3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	Multiplier:     2,
}

// Retry calls fn up to policy.Attempts times, sleeping with exponential
// backoff between attempts. It returns the last error if every attempt fails,
// or nil on the first success. It respects ctx cancellation between attempts.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	backoff := policy.InitialBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * policy.Multiplier)
			if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
				backoff = policy.MaxBackoff
			}
		}

		if err := fn(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
