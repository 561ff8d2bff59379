// Package dedupe collapses repeated work keys inside a time window.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Deduper tracks which keys already have work claimed in the current window.
type Deduper[V comparable] interface {
	// Claim records v for key unless an unexpired claim exists. It returns
	// the value that owns the key and whether the caller's v was recorded.
	Claim(ctx context.Context, key string, v V) (V, bool)

	// Release drops key if it is still owned by v, so the key can be claimed
	// again before the window ends (e.g. after the work was rejected).
	Release(ctx context.Context, key string, v V)

	Size() int
}

type entry[V comparable] struct {
	key       string
	value     V
	claimedAt time.Time
}

// Window implements Deduper in memory. Entries expire window after they were
// claimed; when maxSize is reached the oldest claim is evicted.
type Window[V comparable] struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // oldest claim at the front
	window  time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a window deduper.
func New[V comparable](window time.Duration, opts ...Option) *Window[V] {
	s := settings{maxSize: 50000, now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return &Window[V]{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		window:  window,
		maxSize: s.maxSize,
		now:     s.now,
	}
}

// Claim implements Deduper.
func (w *Window[V]) Claim(_ context.Context, key string, v V) (V, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.expireLocked(now)

	if el, ok := w.entries[key]; ok {
		return el.Value.(*entry[V]).value, false
	}
	if w.maxSize > 0 && len(w.entries) >= w.maxSize {
		w.removeLocked(w.order.Front())
	}
	w.entries[key] = w.order.PushBack(&entry[V]{key: key, value: v, claimedAt: now})
	return v, true
}

// Release implements Deduper.
func (w *Window[V]) Release(_ context.Context, key string, v V) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.entries[key]; ok && el.Value.(*entry[V]).value == v {
		w.removeLocked(el)
	}
}

// Size returns the number of live claims.
func (w *Window[V]) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expireLocked(w.now())
	return len(w.entries)
}

// expireLocked drops claims older than the window. Claims are appended in
// time order, so it stops at the first live one.
func (w *Window[V]) expireLocked(now time.Time) {
	for el := w.order.Front(); el != nil; el = w.order.Front() {
		if now.Sub(el.Value.(*entry[V]).claimedAt) < w.window {
			return
		}
		w.removeLocked(el)
	}
}

func (w *Window[V]) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	delete(w.entries, el.Value.(*entry[V]).key)
	w.order.Remove(el)
}
