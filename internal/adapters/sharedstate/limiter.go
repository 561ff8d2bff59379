package sharedstate

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/tcgprice/internal/domain/ratelimit"
	"github.com/okian/tcgprice/internal/domain/registry"
	"github.com/okian/tcgprice/internal/domain/retry"
)

// Limiter is a sliding-window budget shared through the rate_grants table.
// A transaction-scoped advisory lock serializes grants per source.
type Limiter struct {
	pool     *pgxpool.Pool
	name     string
	capacity int
	refill   time.Duration
	mode     ratelimit.Mode
	maxWait  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

func newLimiter(pool *pgxpool.Pool, s registry.Settings) *Limiter {
	l := &Limiter{
		pool:     pool,
		name:     s.Source.String(),
		capacity: max(s.RateCapacity, 1),
		refill:   s.RefillInterval,
		mode:     s.LimiterMode,
		maxWait:  s.MaxWait,
		sleep:    retry.Sleep,
	}
	if l.refill <= 0 {
		l.refill = time.Second
	}
	return l
}

// Acquire implements ratelimit.Limiter with the same block/fail-fast
// semantics as the in-process bucket.
func (l *Limiter) Acquire(ctx context.Context) (ratelimit.Permit, error) {
	start := time.Now()
	deadline := start.Add(l.maxWait)
	for {
		if err := ctx.Err(); err != nil {
			return ratelimit.Permit{}, err
		}
		wait, ok, err := l.tryTake(ctx)
		if err != nil {
			return ratelimit.Permit{}, err
		}
		now := time.Now()
		if ok {
			return ratelimit.Permit{GrantedAt: now, Waited: now.Sub(start)}, nil
		}
		if l.mode == ratelimit.ModeFailFast || now.Add(wait).After(deadline) {
			return ratelimit.Permit{}, l.exceeded()
		}
		if dl, has := ctx.Deadline(); has && now.Add(wait).After(dl) {
			return ratelimit.Permit{}, l.exceeded()
		}
		if err := l.sleep(ctx, wait); err != nil {
			return ratelimit.Permit{}, err
		}
	}
}

func (l *Limiter) tryTake(ctx context.Context) (wait time.Duration, ok bool, err error) {
	err = pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "rate:"+l.name); err != nil {
			return fmt.Errorf("lock rate grants: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM rate_grants WHERE source = $1 AND granted_at <= clock_timestamp() - $2::bigint * interval '1 microsecond'`,
			l.name, l.refill.Microseconds(),
		); err != nil {
			return fmt.Errorf("expire rate grants: %w", err)
		}

		var (
			used   int
			oldest *time.Time
			now    time.Time
		)
		if err := tx.QueryRow(ctx,
			`SELECT count(*), min(granted_at), clock_timestamp() FROM rate_grants WHERE source = $1`, l.name,
		).Scan(&used, &oldest, &now); err != nil {
			return fmt.Errorf("count rate grants: %w", err)
		}
		if used < l.capacity {
			if _, err := tx.Exec(ctx,
				`INSERT INTO rate_grants (source, granted_at) VALUES ($1, $2)`, l.name, now,
			); err != nil {
				return fmt.Errorf("insert rate grant: %w", err)
			}
			ok = true
			return nil
		}
		if oldest != nil {
			wait = oldest.Add(l.refill).Sub(now)
		}
		return nil
	})
	return wait, ok, err
}

// Snapshot reports the remaining budget. Errors read as an empty bucket.
func (l *Limiter) Snapshot() ratelimit.Snapshot {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap := ratelimit.Snapshot{Capacity: l.capacity, RefillInterval: l.refill}
	var used int
	err := l.pool.QueryRow(ctx,
		`SELECT count(*) FROM rate_grants WHERE source = $1 AND granted_at > clock_timestamp() - $2::bigint * interval '1 microsecond'`,
		l.name, l.refill.Microseconds(),
	).Scan(&used)
	if err == nil {
		snap.Tokens = float64(max(l.capacity-used, 0))
	}
	return snap
}

func (l *Limiter) exceeded() error {
	return fmt.Errorf("%w: %s", ratelimit.ErrRateLimitExceeded, l.name)
}

var _ ratelimit.Limiter = (*Limiter)(nil)
