// Package sources implements one adapter per pricing marketplace. Adapters
// shape requests for the base API client and normalize each vendor's price
// representation into a model.PriceQuote.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/tcgprice/internal/adapters/httpclient"
	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/okian/tcgprice/pkg/logger"
	"github.com/okian/tcgprice/pkg/metrics"
)

// Adapter fetches a normalized quote for a card from one marketplace.
type Adapter interface {
	Source() model.SourceID
	GetPrice(ctx context.Context, card model.CardRef) (model.PriceQuote, error)
}

// Executor performs upstream calls; *httpclient.Client implements it.
type Executor interface {
	Execute(ctx context.Context, source model.SourceID, req *httpclient.Request, auth httpclient.AuthStrategy) (*httpclient.Response, error)
}

// base holds what every adapter shares.
type base struct {
	source     model.SourceID
	exec       Executor
	auth       httpclient.AuthStrategy
	baseURL    string
	sampleSize int
	now        func() time.Time
	logger     logger.Logger
}

func newBase(source model.SourceID, exec Executor, baseURL string, opts []Option) base {
	b := base{
		source:     source,
		exec:       exec,
		auth:       httpclient.NoAuth{},
		baseURL:    baseURL,
		sampleSize: defaultSampleSize,
		now:        time.Now,
		logger:     logger.Get().Named("sources"),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// Source returns the marketplace this adapter talks to.
func (b *base) Source() model.SourceID { return b.source }

func (b *base) get(ctx context.Context, req *httpclient.Request, out any) error {
	resp, err := b.exec.Execute(ctx, b.source, req, b.auth)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return b.malformed(ctx, "decode body: %v", err)
	}
	return nil
}

// malformed counts, logs and returns an ErrMalformedResponse.
func (b *base) malformed(ctx context.Context, format string, args ...any) error {
	err := fmt.Errorf("%w: %s: %s", ErrMalformedResponse, b.source, fmt.Sprintf(format, args...))
	metrics.RecordMalformedResponse(b.source.String())
	b.logger.Warn(ctx, "malformed upstream response",
		logger.String("source", b.source.String()),
		logger.Error(err),
	)
	return err
}

func (b *base) quote(card model.CardRef, p prices, currency, condition string) model.PriceQuote {
	p = p.normalize()
	if currency == "" {
		currency = defaultCurrency
	}
	if condition == "" {
		condition = card.Condition
	}
	return model.PriceQuote{
		CardID:     card.ID,
		Source:     b.source,
		Market:     p.market,
		Low:        p.low,
		High:       p.high,
		Avg:        p.avg,
		Currency:   currency,
		Condition:  condition,
		ObservedAt: b.now().UTC(),
	}
}
