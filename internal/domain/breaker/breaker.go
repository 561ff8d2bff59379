// Package breaker implements the per-source circuit breaker.
package breaker

import (
	"context"
	"sync"
	"time"
)

// CircuitBreaker is the contract the API client depends on. Implementations
// must never hand two callers a probe ticket for the same half-open period.
type CircuitBreaker interface {
	Allow(ctx context.Context) (Ticket, error)
	Record(ctx context.Context, t Ticket, o Outcome) error
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Breaker is an in-process circuit breaker. All transitions happen under mu.
type Breaker struct {
	mu       sync.Mutex
	name     string
	cfg      Settings
	snap     Snapshot
	now      func() time.Time
	onChange func(name string, from, to State)
}

// New creates a closed breaker: 5 failures to open, 60s recovery, no probe lease.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		cfg: Settings{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Settings returns the thresholds in use.
func (b *Breaker) Settings() Settings { return b.cfg }

// Allow admits a call or returns an *OpenError.
func (b *Breaker) Allow(_ context.Context) (Ticket, error) {
	b.mu.Lock()
	from := b.snap.State
	next, ticket, ok := b.snap.Admit(b.cfg, b.now())
	b.snap = next
	b.mu.Unlock()

	b.notify(from, next.State)
	if !ok {
		return Ticket{}, &OpenError{Source: b.name, State: next.State}
	}
	return ticket, nil
}

// Record reports the final outcome of an admitted call.
func (b *Breaker) Record(_ context.Context, t Ticket, o Outcome) error {
	b.mu.Lock()
	from := b.snap.State
	b.snap = b.snap.Apply(b.cfg, t, o, b.now())
	to := b.snap.State
	b.mu.Unlock()

	b.notify(from, to)
	return nil
}

// Snapshot returns the current state.
func (b *Breaker) Snapshot(_ context.Context) (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap, nil
}

// State returns the current state without evaluating recovery.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap.State
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.snap.State
	b.snap = Snapshot{Generation: b.snap.Generation + 1}
	b.mu.Unlock()
	b.notify(from, StateClosed)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
