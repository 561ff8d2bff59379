package sources

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

const (
	defaultCurrency   = "USD"
	defaultSampleSize = 50
	centPlaces        = 2
)

var two = decimal.NewFromInt(2)

// prices is an unrounded set of quote amounts.
type prices struct {
	market, low, high, avg decimal.Decimal
}

// normalize rounds to cents and enforces low <= avg <= high. Inverted bounds
// are swapped; avg is clamped into them. Market is reported as observed.
func (p prices) normalize() prices {
	p.market = p.market.Round(centPlaces)
	p.low = p.low.Round(centPlaces)
	p.high = p.high.Round(centPlaces)
	p.avg = p.avg.Round(centPlaces)
	if p.low.GreaterThan(p.high) {
		p.low, p.high = p.high, p.low
	}
	p.avg = decimal.Min(decimal.Max(p.avg, p.low), p.high)
	return p
}

// field names one raw amount for validation.
type field struct {
	name  string
	value *decimal.Decimal
}

// require checks that every field is present and non-negative.
func require(fields ...field) error {
	for _, f := range fields {
		if f.value == nil {
			return fmt.Errorf("missing %s", f.name)
		}
		if f.value.IsNegative() {
			return fmt.Errorf("negative %s: %s", f.name, f.value)
		}
	}
	return nil
}

func mean(vs ...decimal.Decimal) decimal.Decimal {
	if len(vs) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(vs[0], vs[1:]...).Div(decimal.NewFromInt(int64(len(vs))))
}

// median of vs; vs must be non-empty.
func median(vs []decimal.Decimal) decimal.Decimal {
	s := slices.Clone(vs)
	slices.SortFunc(s, func(a, b decimal.Decimal) int { return a.Cmp(b) })
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return s[mid-1].Add(s[mid]).Div(two)
}
