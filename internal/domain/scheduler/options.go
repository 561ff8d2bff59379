package scheduler

import (
	"math/rand/v2"
	"time"

	"github.com/okian/tcgprice/pkg/logger"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock (for testing).
func WithClock(fn func() time.Time) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithRand sets the jitter source (for testing).
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.rnd = r
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIDGenerator replaces task id generation (for testing).
func WithIDGenerator(fn func() string) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.newID = fn
		}
	}
}
