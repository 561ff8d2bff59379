// Package cache holds the latest quote per card with a per-entry TTL.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/okian/tcgprice/pkg/metrics"
)

const defaultMaxEntries = 100_000

type entry struct {
	cardID    string
	quote     model.PriceQuote
	expiresAt time.Time
}

// Memory is a bounded LRU of quotes. Expired entries are never returned and
// are dropped lazily on lookup.
type Memory struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List // front is most recently used
	maxEntries int
	now        func() time.Time
}

// New creates an empty cache.
func New(opts ...Option) *Memory {
	c := &Memory{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: defaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached quote when it has not expired.
func (c *Memory) Get(_ context.Context, cardID string) (model.PriceQuote, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[cardID]
	if !ok {
		metrics.RecordCacheLookup(false)
		return model.PriceQuote{}, false, nil
	}
	e := el.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.removeLocked(el)
		metrics.RecordCacheLookup(false)
		return model.PriceQuote{}, false, nil
	}
	c.order.MoveToFront(el)
	metrics.RecordCacheLookup(true)
	return e.quote, true, nil
}

// Set stores q for ttl. A non-positive ttl removes the entry.
func (c *Memory) Set(_ context.Context, cardID string, q model.PriceQuote, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[cardID]; ok {
		if ttl <= 0 {
			c.removeLocked(el)
			return nil
		}
		e := el.Value.(*entry)
		e.quote = q
		e.expiresAt = c.now().Add(ttl)
		c.order.MoveToFront(el)
		return nil
	}
	if ttl <= 0 {
		return nil
	}
	for c.order.Len() >= c.maxEntries {
		c.removeLocked(c.order.Back())
	}
	c.items[cardID] = c.order.PushFront(&entry{cardID: cardID, quote: q, expiresAt: c.now().Add(ttl)})
	metrics.UpdateCacheEntries(c.order.Len())
	return nil
}

// Invalidate drops the entry for cardID.
func (c *Memory) Invalidate(_ context.Context, cardID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[cardID]; ok {
		c.removeLocked(el)
	}
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Sweep drops every expired entry and returns how many were removed.
func (c *Memory) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*entry).expiresAt) {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}

func (c *Memory) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).cardID)
	metrics.UpdateCacheEntries(c.order.Len())
}
