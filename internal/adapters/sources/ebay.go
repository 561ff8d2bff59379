package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/okian/tcgprice/internal/adapters/httpclient"
	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/shopspring/decimal"
)

const ebayMarketplace = "EBAY_US"

// EBay samples active listings through the Browse API search.
type EBay struct{ base }

// NewEBay creates an eBay adapter; it expects an OAuth2 strategy.
func NewEBay(exec Executor, baseURL string, opts ...Option) *EBay {
	return &EBay{base: newBase(model.SourceEBay, exec, baseURL, opts)}
}

type ebaySearchResponse struct {
	Total         *int          `json:"total"`
	ItemSummaries []ebayListing `json:"itemSummaries"`
}

type ebayListing struct {
	ItemID    string     `json:"itemId"`
	Condition string     `json:"condition"`
	Price     *ebayMoney `json:"price"`
}

type ebayMoney struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// GetPrice reports the median of the sampled listing prices as market, the
// minimum as low, the maximum as high and the mean as avg.
func (e *EBay) GetPrice(ctx context.Context, card model.CardRef) (model.PriceQuote, error) {
	term := card.SearchTerm(e.source)
	if term == "" {
		return model.PriceQuote{}, ErrMissingIdentifier
	}
	req := &httpclient.Request{
		URL: e.baseURL + "/buy/browse/v1/item_summary/search",
		Query: url.Values{
			"q":     {term},
			"limit": {strconv.Itoa(e.sampleSize)},
		},
		Header: http.Header{"X-Ebay-C-Marketplace-Id": {ebayMarketplace}},
	}

	var body ebaySearchResponse
	if err := e.get(ctx, req, &body); err != nil {
		return model.PriceQuote{}, err
	}
	if body.Total == nil {
		return model.PriceQuote{}, e.malformed(ctx, "missing total")
	}

	sample, currency, err := e.sample(body.ItemSummaries)
	if err != nil {
		return model.PriceQuote{}, e.malformed(ctx, "%v", err)
	}
	if len(sample) == 0 {
		return model.PriceQuote{}, fmt.Errorf("%w: %s no listings for %q", ErrNoPrice, e.source, term)
	}
	return e.quote(card, prices{
		market: median(sample),
		low:    decimal.Min(sample[0], sample[1:]...),
		high:   decimal.Max(sample[0], sample[1:]...),
		avg:    mean(sample...),
	}, currency, ""), nil
}

// sample collects listing prices in the currency of the first priced listing.
// Listings without a price are skipped; unparsable or negative prices fail.
func (e *EBay) sample(items []ebayListing) ([]decimal.Decimal, string, error) {
	var (
		out      []decimal.Decimal
		currency string
	)
	for _, it := range items {
		if len(out) == e.sampleSize {
			break
		}
		if it.Price == nil || it.Price.Value == "" {
			continue
		}
		v, err := decimal.NewFromString(it.Price.Value)
		if err != nil {
			return nil, "", fmt.Errorf("listing %s: bad price %q", it.ItemID, it.Price.Value)
		}
		if v.IsNegative() {
			return nil, "", fmt.Errorf("listing %s: negative price %s", it.ItemID, v)
		}
		if currency == "" {
			currency = it.Price.Currency
		}
		if it.Price.Currency != currency {
			continue
		}
		out = append(out, v)
	}
	return out, currency, nil
}
