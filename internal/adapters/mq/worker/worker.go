// Package worker runs refresh tasks from the queue on a fixed-size pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/tcgprice/internal/adapters/alert"
	"github.com/okian/tcgprice/internal/adapters/mq/queue"
	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/okian/tcgprice/internal/domain/pricing"
	"github.com/okian/tcgprice/internal/domain/retry"
	"github.com/okian/tcgprice/pkg/logger"
	"github.com/okian/tcgprice/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	defaultTaskTimeout      = 3 * time.Minute
	defaultTaskRetries      = 3
	defaultTaskBackoff      = 2 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// ErrTaskPanicked wraps a panic raised while refreshing.
var ErrTaskPanicked = errors.New("task panicked")

// Refresher refreshes one card's price.
type Refresher interface {
	RefreshPrice(ctx context.Context, cardID string) (model.PriceQuote, error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes refresh jobs.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after its current job.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue       Queue
	refresher   Refresher
	name        string
	taskTimeout time.Duration
	policy      retry.Policy
	alerter     alert.Alerter
	sleep       func(ctx context.Context, d time.Duration) error

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// DefaultRetryPolicy retries every failure except empty card ids.
func DefaultRetryPolicy() retry.Policy {
	return retry.FromRetries(defaultTaskRetries,
		retry.Exponential(defaultTaskBackoff, defaultTaskBackoff/2),
		Retryable,
	)
}

// Retryable reports whether a failed task should be run again.
func Retryable(err error) bool {
	return !errors.Is(err, pricing.ErrEmptyCardID) && !errors.Is(err, ErrTaskPanicked)
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, refresher Refresher, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:       q,
		refresher:   refresher,
		name:        "worker",
		taskTimeout: defaultTaskTimeout,
		policy:      DefaultRetryPolicy(),
		alerter:     alert.Nop{},
		sleep:       retry.Sleep,
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			w.process(ctx, job)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process runs one job to completion and acknowledges it exactly once.
func (w *InMemoryWorker) process(ctx context.Context, job queue.Job) {
	start := time.Now()
	task := job.Task

	tctx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	var (
		q   model.PriceQuote
		err error
	)
	for attempt := 0; ; attempt++ {
		task.Attempt = attempt
		q, err = w.refresh(tctx, task)
		if err == nil || tctx.Err() != nil || !w.policy.ShouldRetry(attempt, err) {
			break
		}
		metrics.RecordTaskRetry()
		w.logger.Warn(ctx, "refresh task failed, retrying",
			logger.String("task_id", task.ID),
			logger.String("card_id", task.CardID),
			logger.Int("attempt", attempt+1),
			logger.Error(err),
		)
		if serr := w.sleep(tctx, w.policy.Delay(attempt)); serr != nil {
			break
		}
	}
	metrics.RecordTaskLatency(float64(time.Since(start).Milliseconds()))

	if err != nil {
		w.fail(ctx, task, err)
	}
	if job.Done != nil {
		job.Done(q, err)
	}
}

// refresh calls the refresher and turns a panic into an error.
func (w *InMemoryWorker) refresh(ctx context.Context, task model.RefreshTask) (q model.PriceQuote, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return w.refresher.RefreshPrice(ctx, task.CardID)
}

// fail logs an exhausted task and hands it to the alerter.
func (w *InMemoryWorker) fail(ctx context.Context, task model.RefreshTask, err error) {
	metrics.RecordTaskFailure()
	w.logger.Error(ctx, "refresh task failed",
		logger.String("task_id", task.ID),
		logger.String("card_id", task.CardID),
		logger.Int("attempts", task.Attempt+1),
		logger.Error(err),
	)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	a := alert.Alert{
		Severity: alert.SeverityWarning,
		Source:   task.CardID,
		Title:    "price refresh failed",
		Message:  fmt.Sprintf("task %s for card %s failed after %d attempts: %v", task.ID, task.CardID, task.Attempt+1, err),
		At:       time.Now(),
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if nerr := w.alerter.Notify(actx, a); nerr != nil {
		w.logger.Warn(ctx, "alert delivery failed", logger.Error(nerr))
	}
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers sharing opts.
func NewPool(workerCount int, q Queue, refresher Refresher, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range workerCount {
		wopts := append(append([]Option(nil), opts...), WithName("worker-"+strconv.Itoa(i)))
		p.workers[i] = NewInMemoryWorker(q, refresher, wopts...)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue, lets workers drain it and waits for them.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut int
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut++
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut > 0 {
		return fmt.Errorf("%d workers did not stop: %w", timedOut, shutdownCtx.Err())
	}
	return nil
}
