package sources

import (
	"context"
	"fmt"
	"net/url"

	"github.com/okian/tcgprice/internal/adapters/httpclient"
	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/shopspring/decimal"
)

// PriceCharting reads loose, complete, new and graded prices of a product.
// The product API reports every price as integer US cents; the adapter
// converts them to dollars. Both the underscore field names and the API's
// hyphenated names (cib-price for complete) are accepted.
type PriceCharting struct{ base }

// NewPriceCharting creates a PriceCharting adapter.
func NewPriceCharting(exec Executor, baseURL string, opts ...Option) *PriceCharting {
	return &PriceCharting{base: newBase(model.SourcePriceCharting, exec, baseURL, opts)}
}

type priceChartingResponse struct {
	Status        string           `json:"status"`
	ErrorMessage  string           `json:"error-message"`
	LoosePrice    *decimal.Decimal `json:"loose_price"`
	CompletePrice *decimal.Decimal `json:"complete_price"`
	NewPrice      *decimal.Decimal `json:"new_price"`
	GradedPrice   *decimal.Decimal `json:"graded_price"`

	LooseHyphen  *decimal.Decimal `json:"loose-price"`
	CIBHyphen    *decimal.Decimal `json:"cib-price"`
	NewHyphen    *decimal.Decimal `json:"new-price"`
	GradedHyphen *decimal.Decimal `json:"graded-price"`
}

// dollars fills underscore fields from their hyphenated twins and converts
// every present price from cents to dollars.
func (r *priceChartingResponse) dollars() {
	for _, f := range []struct{ dst, alt **decimal.Decimal }{
		{&r.LoosePrice, &r.LooseHyphen},
		{&r.CompletePrice, &r.CIBHyphen},
		{&r.NewPrice, &r.NewHyphen},
		{&r.GradedPrice, &r.GradedHyphen},
	} {
		if *f.dst == nil {
			*f.dst = *f.alt
		}
		if *f.dst != nil {
			v := (*f.dst).Shift(-2)
			*f.dst = &v
		}
	}
}

// GetPrice reports complete as market, loose as low, new as high and the mean
// of loose, complete and new as avg. Graded is validated but not averaged.
func (p *PriceCharting) GetPrice(ctx context.Context, card model.CardRef) (model.PriceQuote, error) {
	id := card.IdentifierFor(p.source)
	if id == "" {
		return model.PriceQuote{}, ErrMissingIdentifier
	}

	var body priceChartingResponse
	req := &httpclient.Request{URL: p.baseURL + "/api/product", Query: url.Values{"id": {id}}}
	if err := p.get(ctx, req, &body); err != nil {
		return model.PriceQuote{}, err
	}
	body.dollars()
	switch body.Status {
	case "success":
	case "error":
		return model.PriceQuote{}, fmt.Errorf("%w: %s card %s: %s", ErrNoPrice, p.source, card.ID, body.ErrorMessage)
	default:
		return model.PriceQuote{}, p.malformed(ctx, "unexpected status %q", body.Status)
	}

	if err := require(
		field{"loose_price", body.LoosePrice},
		field{"complete_price", body.CompletePrice},
		field{"new_price", body.NewPrice},
	); err != nil {
		return model.PriceQuote{}, p.malformed(ctx, "%v", err)
	}
	if body.GradedPrice != nil && body.GradedPrice.IsNegative() {
		return model.PriceQuote{}, p.malformed(ctx, "negative graded_price: %s", body.GradedPrice)
	}

	loose, complete, newP := *body.LoosePrice, *body.CompletePrice, *body.NewPrice
	return p.quote(card, prices{
		market: complete,
		low:    loose,
		high:   newP,
		avg:    mean(loose, complete, newP),
	}, defaultCurrency, ""), nil
}
