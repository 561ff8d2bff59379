// Package pricing walks the configured source priority list for a card,
// commits the first successful quote to storage and then to the cache, and
// falls back to the last known quote, flagged stale, when every source fails.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/tcgprice/internal/domain/breaker"
	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/okian/tcgprice/internal/domain/ratelimit"
	"github.com/okian/tcgprice/pkg/logger"
	"github.com/okian/tcgprice/pkg/metrics"
)

const (
	defaultTTL         = 20 * time.Minute
	defaultWalkTimeout = 3 * time.Minute
	staleLookupTimeout = 5 * time.Second
)

// Source fetches a normalized quote from one marketplace.
type Source interface {
	Source() model.SourceID
	GetPrice(ctx context.Context, card model.CardRef) (model.PriceQuote, error)
}

// Store is the durable, append-only price history. GetLatestPrice returns an
// error or a nil entry when the card has no history.
type Store interface {
	AppendPriceHistory(ctx context.Context, e model.PriceHistoryEntry) error
	GetLatestPrice(ctx context.Context, cardID string) (*model.PriceHistoryEntry, error)
}

// Cache holds the latest quote per card. Get reports only unexpired entries.
type Cache interface {
	Get(ctx context.Context, cardID string) (model.PriceQuote, bool, error)
	Set(ctx context.Context, cardID string, q model.PriceQuote, ttl time.Duration) error
	Invalidate(ctx context.Context, cardID string) error
}

// Catalog resolves card metadata; unknown cards return model.ErrCardNotFound.
type Catalog interface {
	Card(ctx context.Context, cardID string) (model.CardRef, error)
}

// Orchestrator refreshes card prices across sources.
type Orchestrator struct {
	priority []model.SourceID
	sources  map[model.SourceID]Source
	store    Store
	cache    Cache
	catalog  Catalog
	ttl      func(model.PopularityTier) time.Duration
	walk     time.Duration
	group    singleflight.Group
	now      func() time.Time
	logger   logger.Logger
}

// New creates an orchestrator. Sources missing from srcs are skipped when
// they appear in priority.
func New(priority []model.SourceID, srcs []Source, store Store, cache Cache, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		priority: append([]model.SourceID(nil), priority...),
		sources:  make(map[model.SourceID]Source, len(srcs)),
		store:    store,
		cache:    cache,
		ttl:      func(model.PopularityTier) time.Duration { return defaultTTL },
		walk:     defaultWalkTimeout,
		now:      time.Now,
		logger:   logger.Get().Named("pricing"),
	}
	for _, s := range srcs {
		o.sources[s.Source()] = s
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Priority returns the sources that will be tried, in order.
func (o *Orchestrator) Priority() []model.SourceID {
	out := make([]model.SourceID, 0, len(o.priority))
	for _, id := range o.priority {
		if _, ok := o.sources[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// RefreshPrice refreshes one card. Concurrent calls for the same card share a
// single walk, so writes for a card never interleave. The shared walk is
// bounded by the walk timeout, not by any one caller's context; a caller whose
// context ends stops waiting without failing the others.
func (o *Orchestrator) RefreshPrice(ctx context.Context, cardID string) (model.PriceQuote, error) {
	if cardID == "" {
		return model.PriceQuote{}, ErrEmptyCardID
	}
	if err := ctx.Err(); err != nil {
		return model.PriceQuote{}, err
	}
	ch := o.group.DoChan(cardID, func() (any, error) {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.walk)
		defer cancel()
		return o.refresh(wctx, cardID)
	})
	select {
	case <-ctx.Done():
		return model.PriceQuote{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.PriceQuote{}, res.Err
		}
		return res.Val.(model.PriceQuote), nil
	}
}

func (o *Orchestrator) refresh(ctx context.Context, cardID string) (model.PriceQuote, error) {
	start := o.now()
	card, err := o.card(ctx, cardID)
	if err != nil {
		metrics.RecordRefresh("failed", msSince(o.now, start))
		return model.PriceQuote{}, err
	}

	var attempts []Attempt
	for _, id := range o.priority {
		src, ok := o.sources[id]
		if !ok {
			continue
		}
		q, err := src.GetPrice(ctx, card)
		if err != nil {
			attempts = append(attempts, Attempt{Source: id, Err: err})
			metrics.RecordFallback(id.String(), reason(err))
			o.logger.Info(ctx, "source failed, trying next",
				logger.String("card_id", cardID),
				logger.String("source", id.String()),
				logger.Error(err),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if err := o.commit(ctx, card, q); err != nil {
			metrics.RecordRefresh("failed", msSince(o.now, start))
			return model.PriceQuote{}, err
		}
		metrics.RecordRefresh("fresh", msSince(o.now, start))
		return q, nil
	}

	if ctx.Err() != nil {
		metrics.RecordRefresh("failed", msSince(o.now, start))
		return model.PriceQuote{}, ctx.Err()
	}
	if q, ok := o.cached(ctx, cardID); ok {
		q.Stale = true
		metrics.RecordRefresh("stale", msSince(o.now, start))
		o.logger.Warn(ctx, "all sources failed, serving cached quote",
			logger.String("card_id", cardID),
			logger.String("source", q.Source.String()),
		)
		return q, nil
	}
	metrics.RecordRefresh("failed", msSince(o.now, start))
	return model.PriceQuote{}, &AllSourcesFailedError{CardID: cardID, Attempts: attempts}
}

// commit writes the history row first and the cache second. A cache failure
// leaves a stale cache, which is tolerated; a storage failure is returned.
func (o *Orchestrator) commit(ctx context.Context, card model.CardRef, q model.PriceQuote) error {
	if err := o.store.AppendPriceHistory(ctx, q.HistoryEntry(o.now().UTC())); err != nil {
		metrics.RecordHistoryError()
		return fmt.Errorf("append price history for card %s: %w", card.ID, err)
	}
	metrics.RecordHistoryAppend()

	if err := o.cache.Set(ctx, card.ID, q, o.ttl(card.Tier)); err != nil {
		metrics.RecordCacheError()
		o.logger.Warn(ctx, "cache write failed",
			logger.String("card_id", card.ID),
			logger.Error(err),
		)
		if ierr := o.cache.Invalidate(ctx, card.ID); ierr != nil {
			o.logger.Warn(ctx, "cache invalidate failed",
				logger.String("card_id", card.ID),
				logger.Error(ierr),
			)
		}
		return nil
	}
	metrics.RecordCacheWrite()
	return nil
}

func (o *Orchestrator) card(ctx context.Context, cardID string) (model.CardRef, error) {
	if o.catalog == nil {
		return model.CardRef{ID: cardID, Tier: model.TierWarm}, nil
	}
	card, err := o.catalog.Card(ctx, cardID)
	switch {
	case errors.Is(err, model.ErrCardNotFound):
		return model.CardRef{ID: cardID, Tier: model.TierWarm}, nil
	case err != nil:
		return model.CardRef{}, fmt.Errorf("load card %s: %w", cardID, err)
	}
	if card.Tier == "" {
		card.Tier = model.TierWarm
	}
	return card, nil
}

// cached returns the last known quote: the live cache entry, or else the
// newest history row once the cache entry has expired.
func (o *Orchestrator) cached(ctx context.Context, cardID string) (model.PriceQuote, bool) {
	q, ok, err := o.cache.Get(ctx, cardID)
	switch {
	case err != nil:
		o.logger.Warn(ctx, "cache read failed",
			logger.String("card_id", cardID),
			logger.Error(err),
		)
	case ok:
		return q, true
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), staleLookupTimeout)
	defer cancel()
	e, err := o.store.GetLatestPrice(sctx, cardID)
	if err != nil || e == nil {
		if err != nil {
			o.logger.Debug(ctx, "no stored quote to fall back on",
				logger.String("card_id", cardID),
				logger.Error(err),
			)
		}
		return model.PriceQuote{}, false
	}
	return e.Quote(), true
}

// reason is the fallback metric label for a source failure.
func reason(err error) string {
	switch {
	case errors.Is(err, breaker.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return "rate_limited"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "source_error"
	}
}

func msSince(now func() time.Time, start time.Time) float64 {
	return float64(now().Sub(start).Milliseconds())
}
