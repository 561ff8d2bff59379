package repository

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/okian/tcgprice/internal/domain/model"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	history map[string][]model.PriceHistoryEntry // oldest first
	cards   map[string]model.CardRef
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		history: make(map[string][]model.PriceHistoryEntry),
		cards:   make(map[string]model.CardRef),
	}
}

// AppendPriceHistory implements Store.
func (m *MemoryStore) AppendPriceHistory(_ context.Context, e model.PriceHistoryEntry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[e.CardID] = append(m.history[e.CardID], e)
	return nil
}

// GetLatestPrice implements Store.
func (m *MemoryStore) GetLatestPrice(_ context.Context, cardID string) (*model.PriceHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.history[cardID]
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	latest := rows[0]
	for _, r := range rows[1:] {
		if !r.RecordedAt.Before(latest.RecordedAt) {
			latest = r
		}
	}
	return &latest, nil
}

// History implements Store.
func (m *MemoryStore) History(_ context.Context, cardID string, limit int) ([]model.PriceHistoryEntry, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	m.mu.RLock()
	rows := slices.Clone(m.history[cardID])
	m.mu.RUnlock()

	slices.Reverse(rows)
	slices.SortStableFunc(rows, func(a, b model.PriceHistoryEntry) int {
		return b.RecordedAt.Compare(a.RecordedAt)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// StaleCards implements Store.
func (m *MemoryStore) StaleCards(_ context.Context, olderThan time.Time, limit int) ([]string, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	m.mu.RLock()
	ids := make(map[string]time.Time, len(m.cards)+len(m.history))
	for id := range m.cards {
		ids[id] = time.Time{}
	}
	for id, rows := range m.history {
		for _, r := range rows {
			if r.RecordedAt.After(ids[id]) {
				ids[id] = r.RecordedAt
			}
		}
	}
	m.mu.RUnlock()

	type candidate struct {
		id   string
		last time.Time
	}
	var out []candidate
	for _, id := range slices.Sorted(maps.Keys(ids)) {
		if last := ids[id]; last.Before(olderThan) {
			out = append(out, candidate{id, last})
		}
	}
	slices.SortStableFunc(out, func(a, b candidate) int {
		return a.last.Compare(b.last)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	res := make([]string, len(out))
	for i, c := range out {
		res[i] = c.id
	}
	return res, nil
}

// Card implements Store.
func (m *MemoryStore) Card(_ context.Context, cardID string) (model.CardRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cards[cardID]
	if !ok {
		return model.CardRef{}, model.ErrCardNotFound
	}
	c.ExternalIDs = maps.Clone(c.ExternalIDs)
	return c, nil
}

// UpsertCard implements Store.
func (m *MemoryStore) UpsertCard(_ context.Context, c model.CardRef) error {
	if c.ID == "" {
		return ErrEmptyCardID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ExternalIDs = maps.Clone(c.ExternalIDs)
	m.cards[c.ID] = c
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
