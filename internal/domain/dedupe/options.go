package dedupe

import "time"

type settings struct {
	maxSize int
	now     func() time.Time
}

// Option applies a configuration option to a Window.
type Option func(*settings)

// WithMaxSize sets the maximum number of claims kept in memory.
// If maxSize <= 0 the window is unbounded.
func WithMaxSize(maxSize int) Option {
	return func(s *settings) {
		s.maxSize = maxSize
	}
}

// WithClock sets the clock used for expiry (for testing).
func WithClock(fn func() time.Time) Option {
	return func(s *settings) {
		if fn != nil {
			s.now = fn
		}
	}
}
