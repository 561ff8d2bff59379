package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Money is a non-negative decimal amount in the quote currency.
type Money = decimal.Decimal

// PriceQuote is a normalized, source-tagged price snapshot for one card.
type PriceQuote struct {
	CardID     string
	Source     SourceID
	Market     Money
	Low        Money
	High       Money
	Avg        Money
	Currency   string
	Condition  string
	ObservedAt time.Time
	// Stale marks a quote served from cache after every source failed.
	Stale bool
}

// HistoryEntry converts the quote into the append-only storage row.
func (q PriceQuote) HistoryEntry(recordedAt time.Time) PriceHistoryEntry {
	return PriceHistoryEntry{
		CardID:     q.CardID,
		Source:     q.Source,
		Market:     q.Market,
		Low:        q.Low,
		High:       q.High,
		Avg:        q.Avg,
		Currency:   q.Currency,
		Condition:  q.Condition,
		RecordedAt: recordedAt,
	}
}

// PriceHistoryEntry is one append-only price observation.
type PriceHistoryEntry struct {
	CardID     string
	Source     SourceID
	Market     Money
	Low        Money
	High       Money
	Avg        Money
	Currency   string
	Condition  string
	RecordedAt time.Time
}

// Quote rebuilds a quote from a stored row.
func (e PriceHistoryEntry) Quote() PriceQuote {
	return PriceQuote{
		CardID:     e.CardID,
		Source:     e.Source,
		Market:     e.Market,
		Low:        e.Low,
		High:       e.High,
		Avg:        e.Avg,
		Currency:   e.Currency,
		Condition:  e.Condition,
		ObservedAt: e.RecordedAt,
	}
}
