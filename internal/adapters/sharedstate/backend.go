// Package sharedstate keeps circuit and rate-limit state in Postgres so that
// several processes calling the same marketplace share one budget and one
// view of its health.
package sharedstate

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/tcgprice/internal/domain/breaker"
	"github.com/okian/tcgprice/internal/domain/ratelimit"
	"github.com/okian/tcgprice/internal/domain/registry"
	"github.com/okian/tcgprice/pkg/logger"
	"github.com/okian/tcgprice/pkg/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS circuit_state (
	source               TEXT PRIMARY KEY,
	state                INTEGER NOT NULL DEFAULT 0,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	opened_at            TIMESTAMPTZ,
	last_probe_at        TIMESTAMPTZ,
	probe_in_flight      BOOLEAN NOT NULL DEFAULT FALSE,
	generation           BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS rate_grants (
	source     TEXT NOT NULL,
	granted_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rate_grants_source ON rate_grants(source, granted_at);
`

// Backend implements registry.Backend on a pgx pool.
type Backend struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// New migrates the state tables and returns a backend using pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Backend, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate shared state: %w", err)
	}
	return &Backend{pool: pool, logger: logger.Get().Named("sharedstate")}, nil
}

// NewBreaker implements registry.Backend.
func (b *Backend) NewBreaker(ctx context.Context, s registry.Settings) (breaker.CircuitBreaker, error) {
	name := s.Source.String()
	if _, err := b.pool.Exec(ctx,
		`INSERT INTO circuit_state (source) VALUES ($1) ON CONFLICT (source) DO NOTHING`, name,
	); err != nil {
		return nil, fmt.Errorf("seed circuit state: %w", err)
	}
	br := &Breaker{
		pool: b.pool,
		name: name,
		cfg: breaker.Settings{
			FailureThreshold: s.FailureThreshold,
			RecoveryTimeout:  s.RecoveryTimeout,
			ProbeTimeout:     s.ProbeTimeout,
		},
		onChange: func(name string, from, to breaker.State) {
			metrics.UpdateBreakerState(name, int(to))
			b.logger.Warn(context.Background(), "circuit state changed",
				logger.String("source", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	}
	if snap, err := br.Snapshot(ctx); err == nil {
		metrics.UpdateBreakerState(name, int(snap.State))
	}
	return br, nil
}

// NewLimiter implements registry.Backend.
func (b *Backend) NewLimiter(_ context.Context, s registry.Settings) (ratelimit.Limiter, error) {
	return newLimiter(b.pool, s), nil
}

var _ registry.Backend = (*Backend)(nil)
