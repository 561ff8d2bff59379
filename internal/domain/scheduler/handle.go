package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/okian/tcgprice/internal/domain/model"
)

// Status is the lifecycle stage of a task.
type Status string

// Task statuses.
const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Handle tracks one refresh task. Every caller deduplicated onto the task
// receives the same handle and observes the same result.
type Handle struct {
	ID         string
	CardID     string
	EnqueuedAt time.Time

	done        chan struct{}
	once        sync.Once
	mu          sync.RWMutex
	quote       model.PriceQuote
	err         error
	completedAt time.Time
}

func newHandle(id, cardID string, at time.Time) *Handle {
	return &Handle{ID: id, CardID: cardID, EnqueuedAt: at, done: make(chan struct{})}
}

// Done is closed when the task completes.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the outcome; done is false while the task is pending.
func (h *Handle) Result() (q model.PriceQuote, done bool, err error) {
	select {
	case <-h.done:
	default:
		return model.PriceQuote{}, false, nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.quote, true, h.err
}

// Wait blocks until the task completes or ctx ends.
func (h *Handle) Wait(ctx context.Context) (model.PriceQuote, error) {
	select {
	case <-ctx.Done():
		return model.PriceQuote{}, ctx.Err()
	case <-h.done:
		q, _, err := h.Result()
		return q, err
	}
}

// Status reports the lifecycle stage.
func (h *Handle) Status() Status {
	_, done, err := h.Result()
	switch {
	case !done:
		return StatusPending
	case err != nil:
		return StatusFailed
	default:
		return StatusSucceeded
	}
}

// CompletedAt is zero while pending.
func (h *Handle) CompletedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.completedAt
}

// complete records the outcome once; later calls are ignored.
func (h *Handle) complete(q model.PriceQuote, err error, at time.Time) bool {
	first := false
	h.once.Do(func() {
		h.mu.Lock()
		h.quote, h.err, h.completedAt = q, err, at
		h.mu.Unlock()
		close(h.done)
		first = true
	})
	return first
}
