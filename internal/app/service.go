// Package service composes the refresh pipeline and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/okian/tcgprice/internal/adapters/alert"
	"github.com/okian/tcgprice/internal/adapters/cache"
	"github.com/okian/tcgprice/internal/adapters/http/api"
	"github.com/okian/tcgprice/internal/adapters/httpclient"
	"github.com/okian/tcgprice/internal/adapters/mq/queue"
	"github.com/okian/tcgprice/internal/adapters/mq/worker"
	"github.com/okian/tcgprice/internal/adapters/repository"
	"github.com/okian/tcgprice/internal/adapters/sharedstate"
	"github.com/okian/tcgprice/internal/adapters/sources"
	"github.com/okian/tcgprice/internal/config"
	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/okian/tcgprice/internal/domain/pricing"
	"github.com/okian/tcgprice/internal/domain/registry"
	"github.com/okian/tcgprice/internal/domain/retry"
	"github.com/okian/tcgprice/internal/domain/scheduler"
	"github.com/okian/tcgprice/pkg/logger"
	"github.com/okian/tcgprice/pkg/metrics"
)

const (
	cacheSweepInterval = time.Minute
	stopTimeout        = 30 * time.Second
)

// Service owns every component of the refresh pipeline.
type Service struct {
	mu  sync.RWMutex
	cfg *config.Config

	httpClient *http.Client
	alerter    alert.Alerter
	backend    registry.Backend
	store      repository.Store
	ownsStore  bool
	closers    []func()

	registry     *registry.SourceRegistry
	cache        *cache.Memory
	orchestrator *pricing.Orchestrator
	queue        *queue.InMemoryQueue
	pool         *worker.Pool
	scheduler    *scheduler.Scheduler

	started   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	cancelRun context.CancelFunc

	logger logger.Logger
}

// New creates a service for a validated configuration.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:        cfg,
		httpClient: &http.Client{},
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds and starts every component.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.stopCh = make(chan struct{})
	if err := s.build(ctx); err != nil {
		s.release()
		return err
	}

	// Workers outlive the start context; Stop drains them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelRun = cancel
	s.pool.Start(runCtx)
	if err := s.scheduler.Start(ctx); err != nil {
		_ = s.pool.Shutdown(ctx)
		cancel()
		s.release()
		return err
	}
	s.wg.Add(1)
	go s.sweepCache()

	s.started = true
	s.logger.Info(ctx, "price service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queue_size", s.cfg.Scheduler.QueueSize),
		logger.String("storage", s.cfg.Storage.Driver),
		logger.String("state_backend", s.cfg.StateBackend),
		logger.Any("priority", s.orchestrator.Priority()),
	)
	return nil
}

func (s *Service) build(ctx context.Context) error {
	if s.store == nil {
		st, err := repository.Open(ctx, s.cfg.Storage)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = st
		s.ownsStore = true
	}
	if s.backend == nil {
		b, err := s.openBackend(ctx)
		if err != nil {
			return err
		}
		s.backend = b
	}
	if s.alerter == nil {
		s.alerter = alertersFromConfig(s.cfg.Alert)
	}

	s.registry = registry.New(registry.FromConfig(s.cfg), registry.WithBackend(s.backend))
	client := httpclient.New(s.registry,
		httpclient.WithHTTPClient(s.httpClient),
		httpclient.WithAlerter(s.alerter),
	)
	adapters, err := sources.FromConfig(s.cfg, client, s.httpClient)
	if err != nil {
		return fmt.Errorf("build sources: %w", err)
	}
	priority, err := s.cfg.PriorityIDs()
	if err != nil {
		return err
	}
	srcs := make([]pricing.Source, 0, len(adapters))
	for _, id := range model.AllSources() {
		if a, ok := adapters[id]; ok {
			srcs = append(srcs, a)
		}
	}
	if len(srcs) == 0 {
		s.logger.Warn(ctx, "no sources enabled; every refresh will fail")
	}

	s.cache = cache.New(cache.WithMaxEntries(s.cfg.Cache.MaxEntries))
	s.orchestrator = pricing.New(priority, srcs, s.store, s.cache,
		pricing.WithCatalog(s.store),
		pricing.WithTTL(s.cfg.Cache.TTL),
		pricing.WithWalkTimeout(s.cfg.Scheduler.TaskTimeout),
	)

	sc := s.cfg.Scheduler
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(sc.QueueSize))
	s.pool = worker.NewPool(sc.BulkConcurrency, s.queue, s.orchestrator,
		worker.WithTaskTimeout(sc.TaskTimeout),
		worker.WithRetryPolicy(retry.FromRetries(sc.MaxTaskRetries, retry.Exponential(sc.TaskBackoff, sc.TaskBackoff/2), worker.Retryable)),
		worker.WithAlerter(s.alerter),
	)
	s.scheduler = scheduler.New(sc, s.queue, s.store)
	return nil
}

func (s *Service) openBackend(ctx context.Context) (registry.Backend, error) {
	if s.cfg.StateBackend != config.DriverPostgres {
		return registry.NewMemoryBackend(), nil
	}
	if pg, ok := s.store.(*repository.PostgresStore); ok {
		b, err := sharedstate.New(ctx, pg.Pool())
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	pool, err := repository.Connect(ctx, s.cfg.Storage.PostgresDSN.Reveal(), s.cfg.Storage.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect shared state: %w", err)
	}
	s.closers = append(s.closers, pool.Close)
	b, err := sharedstate.New(ctx, pool)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func alertersFromConfig(cfg config.AlertConfig) alert.Alerter {
	alerters := alert.Multi{alert.NewLogAlerter()}
	if t := cfg.Telegram; t.Enabled {
		alerters = append(alerters, alert.NewTelegramAlerter(t.BotToken.Reveal(), t.ChatID,
			alert.WithAPIBase(t.APIBase),
			alert.WithProxy(t.ProxyURL),
		))
	}
	return alerters
}

// Stop drains in-flight work and releases resources.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping price service...")

	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	var errs []error
	if err := s.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop workers: %w", err))
	}
	s.cancelRun()
	close(s.stopCh)
	s.wg.Wait()
	s.release()

	s.started = false
	s.logger.Info(ctx, "price service stopped")
	return errors.Join(errs...)
}

func (s *Service) release() {
	if s.ownsStore && s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error(context.Background(), "close store", logger.Error(err))
		}
		s.store = nil
		s.ownsStore = false
	}
	for _, c := range s.closers {
		c()
	}
	s.closers = nil
}

func (s *Service) sweepCache() {
	defer s.wg.Done()
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cache.Sweep()
		}
	}
}

// RefreshCard implements api.Dependencies.
func (s *Service) RefreshCard(ctx context.Context, cardID string) (api.Task, error) {
	h, err := s.scheduler.EnqueueSingle(ctx, cardID)
	if err != nil {
		return api.Task{}, err
	}
	return api.NewTask(h), nil
}

// RefreshCards implements api.Dependencies.
func (s *Service) RefreshCards(ctx context.Context, cardIDs []string) ([]api.Task, error) {
	hs, err := s.scheduler.EnqueueBulk(ctx, cardIDs)
	if err != nil {
		return nil, err
	}
	out := make([]api.Task, len(hs))
	for i, h := range hs {
		out[i] = api.NewTask(h)
	}
	return out, nil
}

// Task implements api.Dependencies.
func (s *Service) Task(_ context.Context, taskID string) (api.Task, bool) {
	h, ok := s.scheduler.Task(taskID)
	if !ok {
		return api.Task{}, false
	}
	return api.NewTask(h), true
}

// AwaitTask implements api.Dependencies.
func (s *Service) AwaitTask(ctx context.Context, taskID string) (api.Task, error) {
	h, ok := s.scheduler.Task(taskID)
	if !ok {
		return api.Task{}, fmt.Errorf("%w: %s", api.ErrTaskNotFound, taskID)
	}
	select {
	case <-h.Done():
		return api.NewTask(h), nil
	case <-ctx.Done():
		return api.Task{}, ctx.Err()
	}
}

// LatestPrice serves the cached quote, falling back to the newest stored row.
func (s *Service) LatestPrice(ctx context.Context, cardID string) (model.PriceQuote, error) {
	if q, ok, err := s.cache.Get(ctx, cardID); err == nil && ok {
		return q, nil
	}
	e, err := s.store.GetLatestPrice(ctx, cardID)
	if err != nil {
		return model.PriceQuote{}, err
	}
	return e.Quote(), nil
}

// PriceHistory implements api.Dependencies.
func (s *Service) PriceHistory(ctx context.Context, cardID string, limit int) ([]model.PriceHistoryEntry, error) {
	return s.store.History(ctx, cardID, limit)
}

// UpsertCard implements api.Dependencies.
func (s *Service) UpsertCard(ctx context.Context, card model.CardRef) error {
	return s.store.UpsertCard(ctx, card)
}

// RefreshPrice runs one synchronous refresh, bypassing the queue.
func (s *Service) RefreshPrice(ctx context.Context, cardID string) (model.PriceQuote, error) {
	return s.orchestrator.RefreshPrice(ctx, cardID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{"started": s.started}
	if !s.started {
		return stats
	}
	queueLen := s.queue.Len(ctx)
	metrics.UpdateQueueSize(queueLen)

	stats["scheduler"] = s.scheduler.Stats()
	stats["sources"] = s.registry.Statuses(ctx)
	stats["priority"] = s.orchestrator.Priority()
	stats["queue"] = map[string]int{"length": queueLen, "capacity": s.cfg.Scheduler.QueueSize}
	stats["workers"] = s.pool.Size()
	stats["cache_entries"] = s.cache.Len()
	return stats
}

var _ api.Dependencies = (*Service)(nil)
