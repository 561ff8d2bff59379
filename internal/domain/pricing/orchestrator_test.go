package pricing_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/tcgprice/internal/adapters/cache"
	"github.com/okian/tcgprice/internal/adapters/httpclient"
	"github.com/okian/tcgprice/internal/adapters/sources"
	"github.com/okian/tcgprice/internal/domain/breaker"
	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/okian/tcgprice/internal/domain/pricing"
	"github.com/okian/tcgprice/internal/domain/ratelimit"
	"github.com/okian/tcgprice/internal/domain/registry"
	"github.com/okian/tcgprice/pkg/logger"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

type stubSource struct {
	id    model.SourceID
	err   error
	price string
	delay time.Duration
	calls atomic.Int32
	gate  chan struct{}
}

func (s *stubSource) Source() model.SourceID { return s.id }

func (s *stubSource) GetPrice(ctx context.Context, card model.CardRef) (model.PriceQuote, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return model.PriceQuote{}, ctx.Err()
		}
	}
	if s.err != nil {
		return model.PriceQuote{}, s.err
	}
	p := decimal.RequireFromString(s.price)
	return model.PriceQuote{CardID: card.ID, Source: s.id, Market: p, Low: p, High: p, Avg: p, Currency: "USD"}, nil
}

type memStore struct {
	mu   sync.Mutex
	rows []model.PriceHistoryEntry
	err  error
}

func (m *memStore) AppendPriceHistory(_ context.Context, e model.PriceHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, e)
	return nil
}

func (m *memStore) GetLatestPrice(_ context.Context, cardID string) (*model.PriceHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].CardID == cardID {
			e := m.rows[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memCache struct {
	mu          sync.Mutex
	quotes      map[string]model.PriceQuote
	ttls        map[string]time.Duration
	setErr      error
	invalidated []string
}

func newMemCache() *memCache {
	return &memCache{quotes: map[string]model.PriceQuote{}, ttls: map[string]time.Duration{}}
}

func (c *memCache) Get(_ context.Context, id string) (model.PriceQuote, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.quotes[id]
	return q, ok, nil
}

func (c *memCache) Set(_ context.Context, id string, q model.PriceQuote, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.quotes[id], c.ttls[id] = q, ttl
	return nil
}

func (c *memCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.quotes, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

type catalog map[string]model.CardRef

func (c catalog) Card(_ context.Context, id string) (model.CardRef, error) {
	if card, ok := c[id]; ok {
		return card, nil
	}
	return model.CardRef{}, model.ErrCardNotFound
}

func tierTTL(t model.PopularityTier) time.Duration {
	switch t {
	case model.TierHot:
		return 15 * time.Minute
	case model.TierCold:
		return 30 * time.Minute
	default:
		return 20 * time.Minute
	}
}

func TestFallbackOrder(t *testing.T) {
	Convey("Given sources A (fails), B (succeeds), C (succeeds)", t, func() {
		So(logger.Init(), ShouldBeNil)
		a := &stubSource{id: model.SourceTCGPlayer, err: breaker.ErrCircuitOpen}
		b := &stubSource{id: model.SourcePriceCharting, price: "7.00"}
		c := &stubSource{id: model.SourceJustTCG, price: "8.00"}
		store, cache := &memStore{}, newMemCache()
		o := pricing.New(
			[]model.SourceID{model.SourceTCGPlayer, model.SourcePriceCharting, model.SourceJustTCG, model.SourceEBay},
			[]pricing.Source{c, b, a}, store, cache, pricing.WithTTL(tierTTL),
		)

		q, err := o.RefreshPrice(context.Background(), "7")

		Convey("Then B's quote is returned and C is never invoked", func() {
			So(err, ShouldBeNil)
			So(q.Source, ShouldEqual, model.SourcePriceCharting)
			So(a.calls.Load(), ShouldEqual, 1)
			So(b.calls.Load(), ShouldEqual, 1)
			So(c.calls.Load(), ShouldEqual, 0)
			So(store.count(), ShouldEqual, 1)
		})

		Convey("Then sources without an adapter are left out of the priority", func() {
			So(o.Priority(), ShouldResemble, []model.SourceID{model.SourceTCGPlayer, model.SourcePriceCharting, model.SourceJustTCG})
		})
	})
}

func TestRefreshEndToEnd(t *testing.T) {
	Convey("Given PriceCharting timing out and JustTCG answering for card 42", t, func() {
		So(logger.Init(), ShouldBeNil)
		pc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer pc.Close()
		jt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != "jt-key" || r.URL.Query().Get("cardId") != "42" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"data":[{"condition":"Near Mint","currency":"USD","market_price":12.50,"low_price":11.00,"high_price":14.00,"mid_price":12.40}]}`))
		}))
		defer jt.Close()

		settings := func(id model.SourceID) registry.Settings {
			return registry.Settings{
				Source: id, Enabled: true, RateCapacity: 10, RefillInterval: time.Second,
				LimiterMode: ratelimit.ModeFailFast, FailureThreshold: 5, RecoveryTimeout: time.Minute,
				MaxRetries: 0, BackoffBase: time.Millisecond, RequestTimeout: 50 * time.Millisecond,
			}
		}
		reg := registry.New([]registry.Settings{settings(model.SourcePriceCharting), settings(model.SourceJustTCG)})
		client := httpclient.New(reg)
		srcs := []pricing.Source{
			sources.NewPriceCharting(client, pc.URL, sources.WithAuth(httpclient.NewStaticKey("pc-key", httpclient.InQuery("t")))),
			sources.NewJustTCG(client, jt.URL, sources.WithAuth(httpclient.NewStaticKey("jt-key", httpclient.InHeader("X-API-Key", "")))),
		}
		store, cache := &memStore{}, newMemCache()
		o := pricing.New([]model.SourceID{model.SourcePriceCharting, model.SourceJustTCG}, srcs, store, cache,
			pricing.WithTTL(tierTTL),
			pricing.WithCatalog(catalog{"42": {ID: "42", Tier: model.TierHot}}),
		)

		q, err := o.RefreshPrice(context.Background(), "42")

		Convey("Then the JustTCG quote is committed once and cached with the tier TTL", func() {
			So(err, ShouldBeNil)
			So(q.Source, ShouldEqual, model.SourceJustTCG)
			So(q.Market.Equal(decimal.RequireFromString("12.50")), ShouldBeTrue)
			So(q.Stale, ShouldBeFalse)
			So(store.count(), ShouldEqual, 1)
			So(store.rows[0].Source, ShouldEqual, model.SourceJustTCG)
			So(cache.quotes["42"].Source, ShouldEqual, model.SourceJustTCG)
			So(cache.ttls["42"], ShouldEqual, 15*time.Minute)
		})
	})
}

func TestAllSourcesFail(t *testing.T) {
	Convey("Given every source failing", t, func() {
		So(logger.Init(), ShouldBeNil)
		srcs := []pricing.Source{
			&stubSource{id: model.SourceTCGPlayer, err: ratelimit.ErrRateLimitExceeded},
			&stubSource{id: model.SourceEBay, err: sources.ErrMalformedResponse},
		}
		store, cache := &memStore{}, newMemCache()
		o := pricing.New([]model.SourceID{model.SourceTCGPlayer, model.SourceEBay}, srcs, store, cache)

		Convey("When nothing is cached", func() {
			_, err := o.RefreshPrice(context.Background(), "9")

			Convey("Then AllSourcesFailedError lists every attempt", func() {
				So(errors.Is(err, pricing.ErrAllSourcesFailed), ShouldBeTrue)
				var all *pricing.AllSourcesFailedError
				So(errors.As(err, &all), ShouldBeTrue)
				So(len(all.Attempts), ShouldEqual, 2)
				So(all.Attempts[0].Source, ShouldEqual, model.SourceTCGPlayer)
				So(store.count(), ShouldEqual, 0)
			})
		})

		Convey("When a quote is cached", func() {
			cache.quotes["9"] = model.PriceQuote{CardID: "9", Source: model.SourceJustTCG, Market: decimal.NewFromInt(3)}
			q, err := o.RefreshPrice(context.Background(), "9")

			Convey("Then the cached quote is served as stale", func() {
				So(err, ShouldBeNil)
				So(q.Stale, ShouldBeTrue)
				So(q.Source, ShouldEqual, model.SourceJustTCG)
				So(store.count(), ShouldEqual, 0)
			})
		})
	})
}

func TestCommitOrdering(t *testing.T) {
	Convey("Given one healthy source", t, func() {
		So(logger.Init(), ShouldBeNil)
		src := &stubSource{id: model.SourceJustTCG, price: "1.00"}
		store, cache := &memStore{}, newMemCache()
		o := pricing.New([]model.SourceID{model.SourceJustTCG}, []pricing.Source{src}, store, cache)

		Convey("When storage fails", func() {
			store.err = errors.New("disk full")
			_, err := o.RefreshPrice(context.Background(), "1")

			Convey("Then the error surfaces and the cache is untouched", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, pricing.ErrAllSourcesFailed), ShouldBeFalse)
				_, ok := cache.quotes["1"]
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When the cache fails", func() {
			cache.setErr = errors.New("cache down")
			q, err := o.RefreshPrice(context.Background(), "1")

			Convey("Then the stored quote is still returned and the entry invalidated", func() {
				So(err, ShouldBeNil)
				So(q.Source, ShouldEqual, model.SourceJustTCG)
				So(store.count(), ShouldEqual, 1)
				So(cache.invalidated, ShouldResemble, []string{"1"})
			})
		})

		Convey("When the card id is empty", func() {
			_, err := o.RefreshPrice(context.Background(), "")
			So(errors.Is(err, pricing.ErrEmptyCardID), ShouldBeTrue)
		})
	})
}

func TestPerCardSingleFlight(t *testing.T) {
	Convey("Given concurrent refreshes of the same card", t, func() {
		So(logger.Init(), ShouldBeNil)
		src := &stubSource{id: model.SourceJustTCG, price: "2.00", gate: make(chan struct{})}
		store, cache := &memStore{}, newMemCache()
		o := pricing.New([]model.SourceID{model.SourceJustTCG}, []pricing.Source{src}, store, cache)

		var wg sync.WaitGroup
		var ok atomic.Int32
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := o.RefreshPrice(context.Background(), "5"); err == nil {
					ok.Add(1)
				}
			}()
		}
		for src.calls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		close(src.gate)
		wg.Wait()

		Convey("Then the source is called once and one row is written", func() {
			So(ok.Load(), ShouldEqual, 10)
			So(src.calls.Load(), ShouldEqual, 1)
			So(store.count(), ShouldEqual, 1)
		})
	})
}

func TestSharedWalkOutlivesCaller(t *testing.T) {
	Convey("Given a slow source and two callers joining one refresh", t, func() {
		So(logger.Init(), ShouldBeNil)
		src := &stubSource{id: model.SourceJustTCG, price: "4.00", delay: 200 * time.Millisecond}
		store, mc := &memStore{}, newMemCache()
		o := pricing.New([]model.SourceID{model.SourceJustTCG}, []pricing.Source{src}, store, mc)

		short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		firstErr := make(chan error, 1)
		go func() {
			_, err := o.RefreshPrice(short, "c1")
			firstErr <- err
		}()
		for src.calls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}

		q, err := o.RefreshPrice(context.Background(), "c1")

		Convey("Then only the short caller times out", func() {
			So(errors.Is(<-firstErr, context.DeadlineExceeded), ShouldBeTrue)
			So(err, ShouldBeNil)
			So(q.Source, ShouldEqual, model.SourceJustTCG)
			So(src.calls.Load(), ShouldEqual, 1)
			So(store.count(), ShouldEqual, 1)
		})
	})

	Convey("Given a walk timeout shorter than the source", t, func() {
		So(logger.Init(), ShouldBeNil)
		src := &stubSource{id: model.SourceJustTCG, price: "4.00", delay: 200 * time.Millisecond}
		store := &memStore{}
		o := pricing.New([]model.SourceID{model.SourceJustTCG}, []pricing.Source{src}, store, newMemCache(),
			pricing.WithWalkTimeout(30*time.Millisecond),
		)

		_, err := o.RefreshPrice(context.Background(), "c2")

		Convey("Then the walk is cut off and nothing is written", func() {
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			So(store.count(), ShouldEqual, 0)
		})
	})

	Convey("Given a caller whose context is already done", t, func() {
		So(logger.Init(), ShouldBeNil)
		src := &stubSource{id: model.SourceJustTCG, price: "4.00"}
		o := pricing.New([]model.SourceID{model.SourceJustTCG}, []pricing.Source{src}, &memStore{}, newMemCache())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := o.RefreshPrice(ctx, "c3")

		Convey("Then no walk is started", func() {
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(src.calls.Load(), ShouldEqual, 0)
		})
	})
}

func TestStaleFallbackAfterTTL(t *testing.T) {
	Convey("Given a card refreshed once and a cache entry past its TTL", t, func() {
		So(logger.Init(), ShouldBeNil)
		var mu sync.Mutex
		now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}
		src := &stubSource{id: model.SourceJustTCG, price: "6.25"}
		store := &memStore{}
		mc := cache.New(cache.WithClock(clock))
		o := pricing.New([]model.SourceID{model.SourceJustTCG}, []pricing.Source{src}, store, mc,
			pricing.WithTTL(tierTTL),
			pricing.WithClock(clock),
		)

		_, err := o.RefreshPrice(context.Background(), "11")
		So(err, ShouldBeNil)

		mu.Lock()
		now = now.Add(time.Hour)
		mu.Unlock()
		_, live, _ := mc.Get(context.Background(), "11")
		So(live, ShouldBeFalse)

		src.err = errors.New("upstream down")
		q, err := o.RefreshPrice(context.Background(), "11")

		Convey("Then the last stored quote is served as stale", func() {
			So(err, ShouldBeNil)
			So(q.Stale, ShouldBeTrue)
			So(q.Source, ShouldEqual, model.SourceJustTCG)
			So(q.Market.Equal(decimal.RequireFromString("6.25")), ShouldBeTrue)
			So(store.count(), ShouldEqual, 1)
		})
	})
}
