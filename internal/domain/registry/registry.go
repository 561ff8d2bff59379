// Package registry owns the per-source breaker, limiter and settings.
//
// One SourceRegistry is constructed at startup and passed to the API client,
// the adapters and the orchestrator. Breakers and limiters are created lazily
// on first use and live for the process.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/tcgprice/internal/domain/breaker"
	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/okian/tcgprice/internal/domain/ratelimit"
)

// Entry is the resolved state of one source.
type Entry struct {
	Settings Settings
	Breaker  breaker.CircuitBreaker
	Limiter  ratelimit.Limiter
}

// Status is a read-only view for operators.
type Status struct {
	Source  model.SourceID      `json:"source"`
	Enabled bool                `json:"enabled"`
	Breaker *breaker.Snapshot   `json:"breaker,omitempty"`
	Limiter *ratelimit.Snapshot `json:"limiter,omitempty"`
}

// SourceRegistry maps sources to their state.
type SourceRegistry struct {
	mu       sync.Mutex
	settings map[model.SourceID]Settings
	entries  map[model.SourceID]*Entry
	backend  Backend
}

// Option configures a SourceRegistry.
type Option func(*SourceRegistry)

// WithBackend selects where breaker and limiter state lives.
func WithBackend(b Backend) Option {
	return func(r *SourceRegistry) {
		if b != nil {
			r.backend = b
		}
	}
}

// New creates a registry for the given sources.
func New(settings []Settings, opts ...Option) *SourceRegistry {
	r := &SourceRegistry{
		settings: make(map[model.SourceID]Settings, len(settings)),
		entries:  make(map[model.SourceID]*Entry, len(settings)),
	}
	for _, s := range settings {
		r.settings[s.Source] = s
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.backend == nil {
		r.backend = NewMemoryBackend()
	}
	return r
}

// Settings returns the configuration of a source.
func (r *SourceRegistry) Settings(id model.SourceID) (Settings, bool) {
	s, ok := r.settings[id]
	return s, ok
}

// Get returns the entry for id, creating breaker and limiter on first use.
func (r *SourceRegistry) Get(ctx context.Context, id model.SourceID) (*Entry, error) {
	s, ok := r.settings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	if !s.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrSourceDisabled, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		return e, nil
	}
	br, err := r.backend.NewBreaker(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("create breaker for %s: %w", id, err)
	}
	lim, err := r.backend.NewLimiter(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("create limiter for %s: %w", id, err)
	}
	e := &Entry{Settings: s, Breaker: br, Limiter: lim}
	r.entries[id] = e
	return e, nil
}

// Statuses reports breaker and limiter state of every enabled source in id order.
func (r *SourceRegistry) Statuses(ctx context.Context) []Status {
	out := make([]Status, 0, len(r.settings))
	for _, id := range model.AllSources() {
		s, ok := r.settings[id]
		if !ok {
			continue
		}
		st := Status{Source: id, Enabled: s.Enabled}
		if s.Enabled {
			if e, err := r.Get(ctx, id); err == nil {
				if snap, err := e.Breaker.Snapshot(ctx); err == nil {
					st.Breaker = &snap
				}
				if sn, ok := e.Limiter.(interface{ Snapshot() ratelimit.Snapshot }); ok {
					ls := sn.Snapshot()
					st.Limiter = &ls
				}
			}
		}
		out = append(out, st)
	}
	return out
}
