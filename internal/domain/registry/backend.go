package registry

import (
	"context"
	"time"

	"github.com/okian/tcgprice/internal/domain/breaker"
	"github.com/okian/tcgprice/internal/domain/ratelimit"
	"github.com/okian/tcgprice/pkg/logger"
	"github.com/okian/tcgprice/pkg/metrics"
)

// Backend creates the shared per-source state. MemoryBackend keeps it in
// process; a shared-store backend is needed when several processes call the
// same marketplaces.
type Backend interface {
	NewBreaker(ctx context.Context, s Settings) (breaker.CircuitBreaker, error)
	NewLimiter(ctx context.Context, s Settings) (ratelimit.Limiter, error)
}

// MemoryBackend builds in-process breakers and token buckets.
type MemoryBackend struct {
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithMemoryClock sets the clock used by breakers and buckets (for testing).
func WithMemoryClock(fn func() time.Time) MemoryOption {
	return func(b *MemoryBackend) { b.now = fn }
}

// WithMemorySleeper sets the limiter sleeper (for testing).
func WithMemorySleeper(fn func(ctx context.Context, d time.Duration) error) MemoryOption {
	return func(b *MemoryBackend) { b.sleep = fn }
}

// NewMemoryBackend creates an in-process backend.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	b := &MemoryBackend{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewBreaker creates an in-memory breaker publishing its state to metrics.
func (b *MemoryBackend) NewBreaker(_ context.Context, s Settings) (breaker.CircuitBreaker, error) {
	log := logger.Get().Named("breaker")
	metrics.UpdateBreakerState(s.Source.String(), int(breaker.StateClosed))
	return breaker.New(
		breaker.WithName(s.Source.String()),
		breaker.WithFailureThreshold(s.FailureThreshold),
		breaker.WithRecoveryTimeout(s.RecoveryTimeout),
		breaker.WithProbeTimeout(s.ProbeTimeout),
		breaker.WithClock(b.now),
		breaker.WithStateChange(func(name string, from, to breaker.State) {
			metrics.UpdateBreakerState(name, int(to))
			log.Warn(context.Background(), "circuit state changed",
				logger.String("source", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
	), nil
}

// NewLimiter creates an in-memory token bucket.
func (b *MemoryBackend) NewLimiter(_ context.Context, s Settings) (ratelimit.Limiter, error) {
	opts := []ratelimit.Option{
		ratelimit.WithName(s.Source.String()),
		ratelimit.WithMode(s.LimiterMode),
		ratelimit.WithMaxWait(s.MaxWait),
		ratelimit.WithClock(b.now),
	}
	if b.sleep != nil {
		opts = append(opts, ratelimit.WithSleeper(b.sleep))
	}
	return ratelimit.New(s.RateCapacity, s.RefillInterval, opts...), nil
}
