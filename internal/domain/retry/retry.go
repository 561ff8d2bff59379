// Package retry holds retry policies as plain values.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy describes how many times to try, how long to wait and what to retry.
type Policy struct {
	// MaxAttempts counts the first try; values below 1 mean one attempt.
	MaxAttempts int
	// Backoff returns the wait before retry number attempt (0-based).
	Backoff func(attempt int) time.Duration
	// Retryable reports whether err deserves another attempt. Nil retries nothing.
	Retryable func(err error) bool
}

// FromRetries builds a policy allowing maxRetries retries after the first attempt.
func FromRetries(maxRetries int, backoff func(int) time.Duration, retryable func(error) bool) Policy {
	return Policy{MaxAttempts: maxRetries + 1, Backoff: backoff, Retryable: retryable}
}

// Attempts returns the effective attempt budget.
func (p Policy) Attempts() int {
	return max(p.MaxAttempts, 1)
}

// ShouldRetry reports whether another attempt may follow attempt (0-based) that failed with err.
func (p Policy) ShouldRetry(attempt int, err error) bool {
	if err == nil || attempt+1 >= p.Attempts() || p.Retryable == nil {
		return false
	}
	return p.Retryable(err)
}

// Delay returns the wait before the retry following attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return max(p.Backoff(attempt), 0)
}

// MaxDelay is the ceiling every computed backoff saturates at.
const MaxDelay = time.Duration(math.MaxInt64)

// Exponential returns base*2^attempt plus a random jitter in [0, jitter),
// saturating at MaxDelay.
func Exponential(base, jitter time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		attempt = min(max(attempt, 0), 62)
		var d time.Duration
		if base > 0 {
			factor := time.Duration(1) << uint(attempt)
			if base > MaxDelay/factor {
				return MaxDelay
			}
			d = base * factor
		}
		if jitter > 0 {
			j := time.Duration(rand.Int64N(int64(jitter)))
			if d > MaxDelay-j {
				return MaxDelay
			}
			d += j
		}
		return d
	}
}

// Constant always waits d.
func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
