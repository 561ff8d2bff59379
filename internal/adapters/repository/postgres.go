package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/tcgprice/internal/domain/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS cards (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	condition    TEXT NOT NULL DEFAULT '',
	tier         TEXT NOT NULL DEFAULT 'warm',
	external_ids JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE TABLE IF NOT EXISTS price_history (
	id          BIGSERIAL PRIMARY KEY,
	card_id     TEXT NOT NULL,
	source      TEXT NOT NULL,
	market      NUMERIC NOT NULL,
	low         NUMERIC NOT NULL,
	high        NUMERIC NOT NULL,
	avg         NUMERIC NOT NULL,
	currency    TEXT NOT NULL,
	condition   TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_history_card ON price_history(card_id, recorded_at DESC);
`

// Connect creates a pgx pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// PostgresStore keeps history in Postgres. Amounts are NUMERIC so no
// precision is lost between writer and reader.
type PostgresStore struct {
	pool *pgxpool.Pool
	// owned pools are closed by Close.
	owned bool
}

// NewPostgresStore migrates the schema on an existing pool. The caller keeps
// ownership of the pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// OpenPostgres connects to dsn and migrates. Close releases the pool.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	pool, err := Connect(ctx, dsn, maxConns)
	if err != nil {
		return nil, err
	}
	s, err := NewPostgresStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Pool exposes the underlying pool so shared state can reuse it.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

// AppendPriceHistory implements Store.
func (s *PostgresStore) AppendPriceHistory(ctx context.Context, e model.PriceHistoryEntry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO price_history
		(card_id, source, market, low, high, avg, currency, condition, recorded_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9)`,
		e.CardID, string(e.Source),
		e.Market.String(), e.Low.String(), e.High.String(), e.Avg.String(),
		e.Currency, e.Condition, e.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert price history: %w", err)
	}
	return nil
}

// GetLatestPrice implements Store.
func (s *PostgresStore) GetLatestPrice(ctx context.Context, cardID string) (*model.PriceHistoryEntry, error) {
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
func (s *PostgresStore) History(ctx context.Context, cardID string, limit int) ([]model.PriceHistoryEntry, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT card_id, source, market::text, low::text, high::text, avg::text,
			currency, condition, recorded_at
		FROM price_history WHERE card_id = $1
		ORDER BY recorded_at DESC, id DESC LIMIT $2`, cardID, limit)
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
		)
		if err := rows.Scan(&e.CardID, &source, &market, &low, &high, &avg, &e.Currency, &e.Condition, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan price history: %w", err)
		}
		e.Source = model.SourceID(source)
		e.RecordedAt = e.RecordedAt.UTC()
		if err := parseMoney(&e, market, low, high, avg); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StaleCards implements Store.
func (s *PostgresStore) StaleCards(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	if err := validateLimit(limit); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		WITH ids AS (
			SELECT id AS card_id FROM cards
			UNION
			SELECT DISTINCT card_id FROM price_history
		), last AS (
			SELECT card_id, MAX(recorded_at) AS last_at FROM price_history GROUP BY card_id
		)
		SELECT ids.card_id FROM ids LEFT JOIN last ON last.card_id = ids.card_id
		WHERE last.last_at IS NULL OR last.last_at < $1
		ORDER BY last.last_at ASC NULLS FIRST, ids.card_id
		LIMIT $2`, olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query stale cards: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// Card implements Store.
func (s *PostgresStore) Card(ctx context.Context, cardID string) (model.CardRef, error) {
	var (
		c        model.CardRef
		tier     string
		external string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, condition, tier, external_ids::text FROM cards WHERE id = $1`, cardID,
	).Scan(&c.ID, &c.Name, &c.Condition, &tier, &external)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CardRef{}, model.ErrCardNotFound
	}
	if err != nil {
		return model.CardRef{}, fmt.Errorf("query card: %w", err)
	}
	return finishCard(c, tier, external)
}

// UpsertCard implements Store.
func (s *PostgresStore) UpsertCard(ctx context.Context, c model.CardRef) error {
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
	_, err = s.pool.Exec(ctx, `INSERT INTO cards (id, name, condition, tier, external_ids)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			condition = EXCLUDED.condition,
			tier = EXCLUDED.tier,
			external_ids = EXCLUDED.external_ids`,
		c.ID, c.Name, c.Condition, string(tier), external)
	if err != nil {
		return fmt.Errorf("upsert card: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}
