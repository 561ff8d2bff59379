package worker

import (
	"context"
	"time"

	"github.com/okian/tcgprice/internal/adapters/alert"
	"github.com/okian/tcgprice/internal/domain/retry"
	"github.com/okian/tcgprice/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithTaskTimeout bounds one task, including its retries.
func WithTaskTimeout(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d > 0 {
			w.taskTimeout = d
		}
	}
}

// WithRetryPolicy sets how failed tasks are retried.
func WithRetryPolicy(p retry.Policy) Option {
	return func(w *InMemoryWorker) { w.policy = p }
}

// WithAlerter sets who is told about tasks that exhausted their retries.
func WithAlerter(a alert.Alerter) Option {
	return func(w *InMemoryWorker) {
		if a != nil {
			w.alerter = a
		}
	}
}

// WithSleeper replaces the backoff sleep (for testing).
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(w *InMemoryWorker) {
		if fn != nil {
			w.sleep = fn
		}
	}
}
