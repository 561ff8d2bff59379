package cache

import "time"

// Option configures a Memory cache.
type Option func(*Memory)

// WithMaxEntries bounds the cache; the least recently used entry is evicted first.
func WithMaxEntries(n int) Option {
	return func(c *Memory) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(c *Memory) {
		if fn != nil {
			c.now = fn
		}
	}
}
