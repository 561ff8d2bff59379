package pricing

import (
	"time"

	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/okian/tcgprice/pkg/logger"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCatalog sets where card metadata (external ids, tier) is looked up.
func WithCatalog(c Catalog) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.catalog = c
		}
	}
}

// WithTTL sets the cache TTL per popularity tier.
func WithTTL(fn func(model.PopularityTier) time.Duration) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.ttl = fn
		}
	}
}

// WithWalkTimeout bounds one shared walk over the sources for a card.
func WithWalkTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.walk = d
		}
	}
}

// WithClock sets the clock that stamps history rows (for testing).
func WithClock(fn func() time.Time) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.now = fn
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}
