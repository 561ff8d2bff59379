package ratelimit

import (
	"context"
	"time"
)

// Mode selects what Acquire does when the bucket is empty.
type Mode int

const (
	// ModeBlock waits up to the configured max wait for a token.
	ModeBlock Mode = iota
	// ModeFailFast returns ErrRateLimitExceeded immediately.
	ModeFailFast
)

// ParseMode maps "block" / "fail_fast" to a Mode. Empty means block.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "block":
		return ModeBlock, true
	case "fail_fast", "failfast":
		return ModeFailFast, true
	default:
		return ModeBlock, false
	}
}

func (m Mode) String() string {
	if m == ModeFailFast {
		return "fail_fast"
	}
	return "block"
}

// Option configures a Bucket.
type Option func(*Bucket)

// WithName labels errors returned by the bucket.
func WithName(name string) Option {
	return func(b *Bucket) { b.name = name }
}

// WithMode sets the behaviour on an empty bucket.
func WithMode(m Mode) Option {
	return func(b *Bucket) { b.mode = m }
}

// WithMaxWait bounds how long ModeBlock waits for a token.
func WithMaxWait(d time.Duration) Option {
	return func(b *Bucket) {
		if d >= 0 {
			b.maxWait = d
		}
	}
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(b *Bucket) {
		if fn != nil {
			b.now = fn
		}
	}
}

// WithSleeper replaces the context-aware sleep used while blocking (for testing).
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(b *Bucket) {
		if fn != nil {
			b.sleep = fn
		}
	}
}
