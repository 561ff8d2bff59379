package sources

import (
	"time"

	"github.com/okian/tcgprice/internal/adapters/httpclient"
	"github.com/okian/tcgprice/pkg/logger"
)

// Option configures an adapter.
type Option func(*base)

// WithAuth sets the auth strategy the adapter sends with every call.
func WithAuth(a httpclient.AuthStrategy) Option {
	return func(b *base) {
		if a != nil {
			b.auth = a
		}
	}
}

// WithSampleSize bounds how many listings a listing-based source samples.
func WithSampleSize(n int) Option {
	return func(b *base) {
		if n > 0 {
			b.sampleSize = n
		}
	}
}

// WithClock sets the clock that stamps ObservedAt (for testing).
func WithClock(fn func() time.Time) Option {
	return func(b *base) {
		if fn != nil {
			b.now = fn
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(b *base) {
		if l != nil {
			b.logger = l
		}
	}
}
