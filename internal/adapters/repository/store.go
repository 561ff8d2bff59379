// Package repository stores the append-only price history and the card
// catalog. Memory, SQLite and Postgres implementations share one contract.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/tcgprice/internal/domain/model"
)

// Store provides durable access to price history and cards.
type Store interface {
	// AppendPriceHistory adds one row. Rows are never updated or deleted and
	// duplicates are not detected.
	AppendPriceHistory(ctx context.Context, e model.PriceHistoryEntry) error

	// GetLatestPrice returns the newest row for a card or ErrNotFound.
	GetLatestPrice(ctx context.Context, cardID string) (*model.PriceHistoryEntry, error)

	// History returns up to limit rows for a card, newest first.
	History(ctx context.Context, cardID string, limit int) ([]model.PriceHistoryEntry, error)

	// StaleCards lists known cards whose newest row is older than olderThan,
	// never-priced cards first.
	StaleCards(ctx context.Context, olderThan time.Time, limit int) ([]string, error)

	// Card returns catalog metadata or model.ErrCardNotFound.
	Card(ctx context.Context, cardID string) (model.CardRef, error)

	// UpsertCard creates or replaces catalog metadata.
	UpsertCard(ctx context.Context, c model.CardRef) error

	Close() error
}

func validateEntry(e model.PriceHistoryEntry) error {
	if e.CardID == "" {
		return ErrEmptyCardID
	}
	if !e.Source.Valid() {
		return fmt.Errorf("%w: %q", model.ErrUnknownSource, e.Source)
	}
	return nil
}

func validateLimit(limit int) error {
	if limit <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	return nil
}

func encodeExternalIDs(ids map[model.SourceID]string) (string, error) {
	if len(ids) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode external ids: %w", err)
	}
	return string(b), nil
}

func decodeExternalIDs(s string) (map[model.SourceID]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var ids map[model.SourceID]string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, fmt.Errorf("decode external ids: %w", err)
	}
	return ids, nil
}
