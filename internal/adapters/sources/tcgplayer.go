package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/okian/tcgprice/internal/adapters/httpclient"
	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/shopspring/decimal"
)

// TCGPlayer reads the market price endpoint of a product.
type TCGPlayer struct{ base }

// NewTCGPlayer creates a TCGPlayer adapter; it expects an OAuth2 strategy.
func NewTCGPlayer(exec Executor, baseURL string, opts ...Option) *TCGPlayer {
	return &TCGPlayer{base: newBase(model.SourceTCGPlayer, exec, baseURL, opts)}
}

type tcgPlayerResponse struct {
	Success bool             `json:"success"`
	Errors  []string         `json:"errors"`
	Results []tcgPlayerPrice `json:"results"`
}

type tcgPlayerPrice struct {
	ProductID   int64            `json:"productId"`
	SubTypeName string           `json:"subTypeName"`
	LowPrice    *decimal.Decimal `json:"lowPrice"`
	MidPrice    *decimal.Decimal `json:"midPrice"`
	HighPrice   *decimal.Decimal `json:"highPrice"`
	MarketPrice *decimal.Decimal `json:"marketPrice"`
}

// GetPrice reports the market, low and high prices; avg is midPrice, or the
// midpoint of low and high when midPrice is absent.
func (t *TCGPlayer) GetPrice(ctx context.Context, card model.CardRef) (model.PriceQuote, error) {
	id := card.IdentifierFor(t.source)
	if id == "" {
		return model.PriceQuote{}, ErrMissingIdentifier
	}

	var body tcgPlayerResponse
	req := &httpclient.Request{URL: t.baseURL + "/pricing/product/" + url.PathEscape(id)}
	if err := t.get(ctx, req, &body); err != nil {
		return model.PriceQuote{}, err
	}
	if !body.Success {
		if len(body.Errors) > 0 {
			return model.PriceQuote{}, fmt.Errorf("%w: %s card %s: %s", ErrNoPrice, t.source, card.ID, strings.Join(body.Errors, "; "))
		}
		return model.PriceQuote{}, t.malformed(ctx, "unsuccessful response without errors")
	}
	if len(body.Results) == 0 {
		return model.PriceQuote{}, fmt.Errorf("%w: %s card %s", ErrNoPrice, t.source, card.ID)
	}

	r := pickPriced(body.Results)
	if err := require(
		field{"marketPrice", r.MarketPrice},
		field{"lowPrice", r.LowPrice},
		field{"highPrice", r.HighPrice},
	); err != nil {
		return model.PriceQuote{}, t.malformed(ctx, "%v", err)
	}
	avg := r.LowPrice.Add(*r.HighPrice).Div(two)
	if r.MidPrice != nil {
		if r.MidPrice.IsNegative() {
			return model.PriceQuote{}, t.malformed(ctx, "negative midPrice: %s", r.MidPrice)
		}
		avg = *r.MidPrice
	}
	return t.quote(card, prices{
		market: *r.MarketPrice,
		low:    *r.LowPrice,
		high:   *r.HighPrice,
		avg:    avg,
	}, defaultCurrency, ""), nil
}

// pickPriced prefers the first printing that has a market price.
func pickPriced(results []tcgPlayerPrice) tcgPlayerPrice {
	for _, r := range results {
		if r.MarketPrice != nil {
			return r
		}
	}
	return results[0]
}
