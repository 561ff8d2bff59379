// Package scheduler turns single, bulk and periodic refresh requests into
// queued tasks. Requests for the same card inside the dedup window share one
// task; bulk work is spread with random jitter and paced before it reaches
// the queue.
package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/okian/tcgprice/internal/adapters/mq/queue"
	"github.com/okian/tcgprice/internal/config"
	"github.com/okian/tcgprice/internal/domain/dedupe"
	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/okian/tcgprice/internal/domain/retry"
	"github.com/okian/tcgprice/pkg/logger"
	"github.com/okian/tcgprice/pkg/metrics"
)

const (
	pruneEvery       = "@every 1m"
	minRetention     = time.Minute
	dedupKeyPrefix   = "refresh:"
	defaultStaleSize = 500
)

// Enqueuer accepts jobs for the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, j queue.Job) error
}

// StaleFinder lists cards whose latest observation is older than a cutoff.
type StaleFinder interface {
	StaleCards(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

// Stats summarizes tracked tasks.
type Stats struct {
	Tracked   int `json:"tracked"`
	Pending   int `json:"pending"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	DedupKeys int `json:"dedup_keys"`
}

// Scheduler creates and tracks refresh tasks.
type Scheduler struct {
	cfg    config.SchedulerConfig
	queue  Enqueuer
	stale  StaleFinder
	dedup  *dedupe.Window[*Handle]
	pacer  *rate.Limiter
	cron   *cron.Cron
	now    func() time.Time
	newID  func() string
	logger logger.Logger

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	tasks map[string]*Handle

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
	stopped   bool
}

// New creates a scheduler. stale may be nil when no periodic sweep is wanted.
func New(cfg config.SchedulerConfig, q Enqueuer, stale StaleFinder, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:    cfg,
		queue:  q,
		stale:  stale,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
		logger: logger.Get().Named("scheduler"),
		rnd:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		tasks:  make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dedup = dedupe.New[*Handle](cfg.EffectiveDedupWindow(),
		dedupe.WithMaxSize(cfg.DedupSize),
		dedupe.WithClock(s.now),
	)
	limit := rate.Inf
	if cfg.DispatchRate > 0 {
		limit = rate.Limit(cfg.DispatchRate)
	}
	s.pacer = rate.NewLimiter(limit, max(cfg.DispatchBurst, 1))
	s.runCtx, s.cancelRun = context.WithCancel(context.Background())
	return s
}

// Start registers the periodic stale sweep and task pruning.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	if s.cfg.Cron != "" && s.stale != nil {
		if _, err := s.cron.AddFunc(s.cfg.Cron, func() {
			n, err := s.RefreshStale(s.runCtx)
			if err != nil {
				s.logger.Error(s.runCtx, "stale sweep failed", logger.Error(err))
				return
			}
			s.logger.Info(s.runCtx, "stale sweep scheduled tasks", logger.Int("tasks", n))
		}); err != nil {
			return fmt.Errorf("schedule stale sweep %q: %w", s.cfg.Cron, err)
		}
	}
	if _, err := s.cron.AddFunc(pruneEvery, s.prune); err != nil {
		return fmt.Errorf("schedule prune: %w", err)
	}
	s.cron.Start()
	s.logger.Info(ctx, "scheduler started",
		logger.String("cron", s.cfg.Cron),
		logger.Duration("dedup_window", s.cfg.EffectiveDedupWindow()),
	)
	return nil
}

// Stop halts the cron, cancels pending bulk dispatches and waits for them.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	if s.cron != nil {
		cronDone := s.cron.Stop()
		select {
		case <-cronDone.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.cancelRun()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueSingle queues an immediate refresh of cardID, or returns the handle
// of a task already claimed for it inside the dedup window.
func (s *Scheduler) EnqueueSingle(ctx context.Context, cardID string) (*Handle, error) {
	if cardID == "" {
		return nil, ErrEmptyCardID
	}
	h, fresh, err := s.claim(ctx, cardID)
	if err != nil || !fresh {
		return h, err
	}
	if err := s.dispatch(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// EnqueueBulk claims a task per distinct card and dispatches the new ones in
// the background with jitter and pacing. Handles follow the input order.
func (s *Scheduler) EnqueueBulk(ctx context.Context, cardIDs []string) ([]*Handle, error) {
	handles, _, err := s.enqueueBulk(ctx, cardIDs)
	return handles, err
}

func (s *Scheduler) enqueueBulk(ctx context.Context, cardIDs []string) ([]*Handle, int, error) {
	if slices.Contains(cardIDs, "") {
		return nil, 0, ErrEmptyCardID
	}
	handles := make([]*Handle, len(cardIDs))
	byCard := make(map[string]*Handle, len(cardIDs))
	var pending []delayed
	for i, id := range cardIDs {
		if h, ok := byCard[id]; ok {
			handles[i] = h
			continue
		}
		h, fresh, err := s.claim(ctx, id)
		if err != nil {
			s.abandon(pending, err)
			return nil, 0, err
		}
		if fresh {
			pending = append(pending, delayed{h: h, after: s.jitter()})
		}
		byCard[id], handles[i] = h, h
	}
	if len(pending) > 0 {
		if err := s.startBulk(pending); err != nil {
			s.abandon(pending, err)
			return nil, 0, err
		}
	}
	return handles, len(pending), nil
}

// startBulk registers a bulk dispatch with the wait group under the same lock
// Stop takes, so no dispatch is added once Stop may be waiting.
func (s *Scheduler) startBulk(pending []delayed) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go s.dispatchBulk(pending)
	return nil
}

// RefreshStale schedules every card whose latest price is older than the
// staleness interval. It returns how many new tasks were created.
func (s *Scheduler) RefreshStale(ctx context.Context) (int, error) {
	if s.stale == nil {
		return 0, nil
	}
	limit := s.cfg.StaleBatch
	if limit <= 0 {
		limit = defaultStaleSize
	}
	ids, err := s.stale.StaleCards(ctx, s.now().Add(-s.cfg.StaleInterval), limit)
	if err != nil {
		return 0, fmt.Errorf("list stale cards: %w", err)
	}
	metrics.RecordStaleSweep()
	if len(ids) == 0 {
		return 0, nil
	}
	_, fresh, err := s.enqueueBulk(ctx, ids)
	return fresh, err
}

// Task returns a tracked task by id.
func (s *Scheduler) Task(id string) (*Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.tasks[id]
	return h, ok
}

// Stats counts tracked tasks by status.
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Tracked: len(s.tasks), DedupKeys: s.dedup.Size()}
	for _, h := range s.tasks {
		switch h.Status() {
		case StatusPending:
			st.Pending++
		case StatusSucceeded:
			st.Succeeded++
		case StatusFailed:
			st.Failed++
		}
	}
	return st
}

// claim returns the handle owning cardID; fresh reports a newly created task.
func (s *Scheduler) claim(ctx context.Context, cardID string) (*Handle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, false, ErrStopped
	}
	h := newHandle(s.newID(), cardID, s.now())
	owner, claimed := s.dedup.Claim(ctx, dedupKeyPrefix+cardID, h)
	if !claimed {
		metrics.RecordDedupHit()
		return owner, false, nil
	}
	s.tasks[h.ID] = h
	return h, true, nil
}

// dispatch hands a claimed task to the queue. A rejected task is completed
// with the error and its claim released.
func (s *Scheduler) dispatch(ctx context.Context, h *Handle) error {
	task := model.RefreshTask{
		ID:         h.ID,
		CardID:     h.CardID,
		EnqueuedAt: h.EnqueuedAt,
		DedupKey:   dedupKeyPrefix + h.CardID,
	}
	err := s.queue.Enqueue(ctx, queue.Job{
		Task: task,
		Done: func(q model.PriceQuote, err error) { s.finish(h, q, err) },
	})
	if err != nil {
		s.finish(h, model.PriceQuote{}, fmt.Errorf("enqueue card %s: %w", h.CardID, err))
		return err
	}
	return nil
}

// finish completes a handle. Failed tasks give up their dedup claim so the
// next request retries instead of observing the failure for a whole window.
func (s *Scheduler) finish(h *Handle, q model.PriceQuote, err error) {
	if !h.complete(q, err, s.now()) {
		return
	}
	if err != nil {
		s.dedup.Release(context.Background(), dedupKeyPrefix+h.CardID, h)
	}
}

type delayed struct {
	h     *Handle
	after time.Duration
}

func (s *Scheduler) dispatchBulk(pending []delayed) {
	defer s.wg.Done()
	slices.SortStableFunc(pending, func(a, b delayed) int { return cmp.Compare(a.after, b.after) })

	start := time.Now()
	for i, d := range pending {
		if err := retry.Sleep(s.runCtx, d.after-time.Since(start)); err != nil {
			s.abandon(pending[i:], err)
			return
		}
		if err := s.pacer.Wait(s.runCtx); err != nil {
			s.abandon(pending[i:], err)
			return
		}
		if err := s.dispatch(s.runCtx, d.h); err != nil {
			s.logger.Warn(s.runCtx, "bulk dispatch rejected",
				logger.String("card_id", d.h.CardID),
				logger.Error(err),
			)
		}
	}
}

func (s *Scheduler) abandon(pending []delayed, err error) {
	for _, d := range pending {
		s.finish(d.h, model.PriceQuote{}, fmt.Errorf("dispatch card %s: %w", d.h.CardID, err))
	}
}

func (s *Scheduler) jitter() time.Duration {
	if s.cfg.MaxJitter <= 0 {
		return 0
	}
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return time.Duration(s.rnd.Int64N(int64(s.cfg.MaxJitter)))
}

// prune forgets completed tasks once their dedup window has passed.
func (s *Scheduler) prune() {
	retention := max(s.cfg.EffectiveDedupWindow(), minRetention)
	cutoff := s.now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.tasks {
		if c := h.CompletedAt(); !c.IsZero() && c.Before(cutoff) {
			delete(s.tasks, id)
		}
	}
}

// IsRejected reports whether err means the request was not accepted.
func IsRejected(err error) bool {
	return errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrQueueClosed) || errors.Is(err, ErrStopped)
}
