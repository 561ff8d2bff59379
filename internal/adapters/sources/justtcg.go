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

// JustTCG reads condition-level prices from the JustTCG cards endpoint.
type JustTCG struct{ base }

// NewJustTCG creates a JustTCG adapter.
func NewJustTCG(exec Executor, baseURL string, opts ...Option) *JustTCG {
	return &JustTCG{base: newBase(model.SourceJustTCG, exec, baseURL, opts)}
}

type justTCGResponse struct {
	Data []justTCGPrice `json:"data"`
}

type justTCGPrice struct {
	Condition   string           `json:"condition"`
	Currency    string           `json:"currency"`
	MarketPrice *decimal.Decimal `json:"market_price"`
	LowPrice    *decimal.Decimal `json:"low_price"`
	HighPrice   *decimal.Decimal `json:"high_price"`
	MidPrice    *decimal.Decimal `json:"mid_price"`
}

// GetPrice maps market_price, low_price, high_price and mid_price one to one.
func (j *JustTCG) GetPrice(ctx context.Context, card model.CardRef) (model.PriceQuote, error) {
	id := card.IdentifierFor(j.source)
	if id == "" {
		return model.PriceQuote{}, ErrMissingIdentifier
	}
	q := url.Values{"cardId": {id}}
	if card.Condition != "" {
		q.Set("condition", card.Condition)
	}

	var body justTCGResponse
	if err := j.get(ctx, &httpclient.Request{URL: j.baseURL + "/cards", Query: q}, &body); err != nil {
		return model.PriceQuote{}, err
	}
	if body.Data == nil {
		return model.PriceQuote{}, j.malformed(ctx, "missing data")
	}
	if len(body.Data) == 0 {
		return model.PriceQuote{}, fmt.Errorf("%w: %s card %s", ErrNoPrice, j.source, card.ID)
	}

	p := pickCondition(body.Data, card.Condition)
	if err := require(
		field{"market_price", p.MarketPrice},
		field{"low_price", p.LowPrice},
		field{"high_price", p.HighPrice},
		field{"mid_price", p.MidPrice},
	); err != nil {
		return model.PriceQuote{}, j.malformed(ctx, "%v", err)
	}
	return j.quote(card, prices{
		market: *p.MarketPrice,
		low:    *p.LowPrice,
		high:   *p.HighPrice,
		avg:    *p.MidPrice,
	}, p.Currency, p.Condition), nil
}

// pickCondition prefers the entry matching condition, else the first one.
func pickCondition(data []justTCGPrice, condition string) justTCGPrice {
	for _, d := range data {
		if condition != "" && strings.EqualFold(d.Condition, condition) {
			return d
		}
	}
	return data[0]
}
