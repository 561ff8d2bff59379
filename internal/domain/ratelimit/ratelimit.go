// Package ratelimit enforces a per-source request budget.
//
// A Bucket holds capacity tokens. Each spent token comes back exactly one
// refill interval after it was spent, so no window of refill interval length
// ever contains more than capacity grants.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter is the contract the API client depends on.
type Limiter interface {
	Acquire(ctx context.Context) (Permit, error)
}

// Permit records a granted acquisition.
type Permit struct {
	GrantedAt time.Time
	Waited    time.Duration
}

// Snapshot is a point-in-time view of a bucket.
type Snapshot struct {
	Capacity       int
	RefillInterval time.Duration
	Tokens         float64
	LastRefill     time.Time
}

// Bucket is a token bucket guarded by its own lock.
type Bucket struct {
	mu         sync.Mutex
	name       string
	capacity   int
	refill     time.Duration
	grants     []time.Time // ring of outstanding grant times, oldest at head
	head       int
	used       int
	lastRefill time.Time

	mode    Mode
	maxWait time.Duration
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a bucket admitting capacity acquisitions per refill interval.
func New(capacity int, refill time.Duration, opts ...Option) *Bucket {
	if capacity < 1 {
		capacity = 1
	}
	if refill <= 0 {
		refill = time.Second
	}
	b := &Bucket{
		capacity: capacity,
		refill:   refill,
		grants:   make([]time.Time, capacity),
		mode:     ModeBlock,
		maxWait:  refill,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.lastRefill = b.now()
	return b
}

// Acquire takes one token. In ModeBlock it waits up to the max wait (and never
// past ctx); in ModeFailFast it returns ErrRateLimitExceeded at once.
func (b *Bucket) Acquire(ctx context.Context) (Permit, error) {
	start := b.now()
	deadline := start.Add(b.maxWait)
	for {
		if err := ctx.Err(); err != nil {
			return Permit{}, err
		}
		now := b.now()
		wait, ok := b.tryTake(now)
		if ok {
			return Permit{GrantedAt: now, Waited: now.Sub(start)}, nil
		}
		if b.mode == ModeFailFast || now.Add(wait).After(deadline) {
			return Permit{}, b.exceeded()
		}
		if dl, has := ctx.Deadline(); has && now.Add(wait).After(dl) {
			return Permit{}, b.exceeded()
		}
		if err := b.sleep(ctx, wait); err != nil {
			return Permit{}, err
		}
	}
}

// tryTake grants a token at now, or reports how long until the next one frees up.
func (b *Bucket) tryTake(now time.Time) (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseLocked(now)
	if b.used < b.capacity {
		b.grants[(b.head+b.used)%b.capacity] = now
		b.used++
		return 0, true
	}
	return b.grants[b.head].Add(b.refill).Sub(now), false
}

// releaseLocked returns every token whose grant is at least one interval old.
func (b *Bucket) releaseLocked(now time.Time) {
	for b.used > 0 {
		back := b.grants[b.head].Add(b.refill)
		if back.After(now) {
			return
		}
		b.head = (b.head + 1) % b.capacity
		b.used--
		b.lastRefill = back
	}
}

// Snapshot reports capacity, available tokens and the last refill time.
func (b *Bucket) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseLocked(b.now())
	return Snapshot{
		Capacity:       b.capacity,
		RefillInterval: b.refill,
		Tokens:         float64(b.capacity - b.used),
		LastRefill:     b.lastRefill,
	}
}

func (b *Bucket) exceeded() error {
	if b.name == "" {
		return ErrRateLimitExceeded
	}
	return fmt.Errorf("%w: %s", ErrRateLimitExceeded, b.name)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
