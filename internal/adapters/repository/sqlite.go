package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/okian/tcgprice/pkg/logger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cards (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	condition    TEXT NOT NULL DEFAULT '',
	tier         TEXT NOT NULL DEFAULT 'warm',
	external_ids TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS price_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	card_id     TEXT NOT NULL,
	source      TEXT NOT NULL,
	market      TEXT NOT NULL,
	low         TEXT NOT NULL,
	high        TEXT NOT NULL,
	avg         TEXT NOT NULL,
	currency    TEXT NOT NULL,
	condition   TEXT NOT NULL DEFAULT '',
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_history_card ON price_history(card_id, recorded_at);
`

// SQLiteStore persists to an embedded SQLite database. Money is stored as
// decimal text and timestamps as unix milliseconds.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

// OpenSQLite opens (or creates) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; WAL lets readers proceed.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger.Get().Named("sqlite")}
	s.logger.Info(ctx, "sqlite store opened", logger.String("path", path))
	return s, nil
}

// AppendPriceHistory implements Store.
func (s *SQLiteStore) AppendPriceHistory(ctx context.Context, e model.PriceHistoryEntry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO price_history
		(card_id, source, market, low, high, avg, currency, condition, recorded_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		e.CardID, string(e.Source),
		e.Market.String(), e.Low.String(), e.High.String(), e.Avg.String(),
		e.Currency, e.Condition, e.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert price history: %w", err)
	}
	return nil
}

// GetLatestPrice implements Store.
func (s *SQLiteStore) GetLatestPrice(ctx context.Context, cardID string) (*model.PriceHistoryEntry, error) {
	rows, err := s.History(ctx, cardID, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// History implements Store.
func (s *SQLiteStore) History(ctx context.Context, cardID string, limit int) ([]model.PriceHistoryEntry, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT card_id, source, market, low, high, avg, currency, condition, recorded_at
		FROM price_history WHERE card_id = ?
		ORDER BY recorded_at DESC, id DESC LIMIT ?`, cardID, limit)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	var out []model.PriceHistoryEntry
	for rows.Next() {
		var (
			e                      model.PriceHistoryEntry
			source                 string
			market, low, high, avg string
			recordedAt             int64
		)
		if err := rows.Scan(&e.CardID, &source, &market, &low, &high, &avg, &e.Currency, &e.Condition, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan price history: %w", err)
		}
		e.Source = model.SourceID(source)
		e.RecordedAt = time.UnixMilli(recordedAt).UTC()
		if err := parseMoney(&e, market, low, high, avg); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StaleCards implements Store.
func (s *SQLiteStore) StaleCards(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		WITH ids AS (
			SELECT id AS card_id FROM cards
			UNION
			SELECT DISTINCT card_id FROM price_history
		), last AS (
			SELECT card_id, MAX(recorded_at) AS last_at FROM price_history GROUP BY card_id
		)
		SELECT ids.card_id FROM ids LEFT JOIN last ON last.card_id = ids.card_id
		WHERE last.last_at IS NULL OR last.last_at < ?
		ORDER BY COALESCE(last.last_at, 0), ids.card_id
		LIMIT ?`, olderThan.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query stale cards: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// Card implements Store.
func (s *SQLiteStore) Card(ctx context.Context, cardID string) (model.CardRef, error) {
	var (
		c        model.CardRef
		tier     string
		external string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, condition, tier, external_ids FROM cards WHERE id = ?`, cardID,
	).Scan(&c.ID, &c.Name, &c.Condition, &tier, &external)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CardRef{}, model.ErrCardNotFound
	}
	if err != nil {
		return model.CardRef{}, fmt.Errorf("query card: %w", err)
	}
	return finishCard(c, tier, external)
}

// UpsertCard implements Store.
func (s *SQLiteStore) UpsertCard(ctx context.Context, c model.CardRef) error {
	if c.ID == "" {
		return ErrEmptyCardID
	}
	external, err := encodeExternalIDs(c.ExternalIDs)
	if err != nil {
		return err
	}
	tier := c.Tier
	if tier == "" {
		tier = model.TierWarm
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO cards (id, name, condition, tier, external_ids)
		VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			condition = excluded.condition,
			tier = excluded.tier,
			external_ids = excluded.external_ids`,
		c.ID, c.Name, c.Condition, string(tier), external)
	if err != nil {
		return fmt.Errorf("upsert card: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func parseMoney(e *model.PriceHistoryEntry, market, low, high, avg string) error {
	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{{&e.Market, market}, {&e.Low, low}, {&e.High, high}, {&e.Avg, avg}} {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("parse stored amount %q: %w", f.raw, err)
		}
		*f.dst = v
	}
	return nil
}

func finishCard(c model.CardRef, tier, external string) (model.CardRef, error) {
	t, err := model.ParseTier(tier)
	if err != nil {
		return model.CardRef{}, err
	}
	c.Tier = t
	if c.ExternalIDs, err = decodeExternalIDs(external); err != nil {
		return model.CardRef{}, err
	}
	return c, nil
}

type idRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanIDs(rows idRows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan card id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
