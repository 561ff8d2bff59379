package sharedstate

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/tcgprice/internal/domain/breaker"
)

// Breaker is a circuit breaker whose state row is locked for every
// transition. Time comes from the database so processes agree on it.
type Breaker struct {
	pool     *pgxpool.Pool
	name     string
	cfg      breaker.Settings
	onChange func(name string, from, to breaker.State)
}

// Allow implements breaker.CircuitBreaker.
func (b *Breaker) Allow(ctx context.Context) (breaker.Ticket, error) {
	var (
		from, to breaker.State
		ticket   breaker.Ticket
		ok       bool
	)
	err := b.update(ctx, func(s breaker.Snapshot, now time.Time) breaker.Snapshot {
		from = s.State
		var next breaker.Snapshot
		next, ticket, ok = s.Admit(b.cfg, now)
		to = next.State
		return next
	})
	if err != nil {
		return breaker.Ticket{}, err
	}
	b.notify(from, to)
	if !ok {
		return breaker.Ticket{}, &breaker.OpenError{Source: b.name, State: to}
	}
	return ticket, nil
}

// Record implements breaker.CircuitBreaker.
func (b *Breaker) Record(ctx context.Context, t breaker.Ticket, o breaker.Outcome) error {
	var from, to breaker.State
	err := b.update(ctx, func(s breaker.Snapshot, now time.Time) breaker.Snapshot {
		from = s.State
		next := s.Apply(b.cfg, t, o, now)
		to = next.State
		return next
	})
	if err != nil {
		return err
	}
	b.notify(from, to)
	return nil
}

// Snapshot implements breaker.CircuitBreaker.
func (b *Breaker) Snapshot(ctx context.Context) (breaker.Snapshot, error) {
	snap, _, err := load(ctx, b.pool, b.name, "")
	return snap, err
}

func (b *Breaker) update(ctx context.Context, fn func(breaker.Snapshot, time.Time) breaker.Snapshot) error {
	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		snap, now, err := load(ctx, tx, b.name, " FOR UPDATE")
		if err != nil {
			return err
		}
		next := fn(snap, now)
		if next == snap {
			return nil
		}
		_, err = tx.Exec(ctx, `UPDATE circuit_state SET
				state = $2, consecutive_failures = $3, opened_at = $4,
				last_probe_at = $5, probe_in_flight = $6, generation = $7
			WHERE source = $1`,
			b.name, int(next.State), next.ConsecutiveFailures,
			nullTime(next.OpenedAt), nullTime(next.LastProbeAt),
			next.ProbeInFlight, int64(next.Generation),
		)
		if err != nil {
			return fmt.Errorf("update circuit state: %w", err)
		}
		return nil
	})
}

func (b *Breaker) notify(from, to breaker.State) {
	if from != to && b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func load(ctx context.Context, q querier, source, lock string) (breaker.Snapshot, time.Time, error) {
	var (
		s                 breaker.Snapshot
		state             int
		generation        int64
		openedAt, probeAt *time.Time
		now               time.Time
	)
	err := q.QueryRow(ctx, `SELECT state, consecutive_failures, opened_at, last_probe_at,
			probe_in_flight, generation, clock_timestamp()
		FROM circuit_state WHERE source = $1`+lock, source,
	).Scan(&state, &s.ConsecutiveFailures, &openedAt, &probeAt, &s.ProbeInFlight, &generation, &now)
	if err != nil {
		return breaker.Snapshot{}, time.Time{}, fmt.Errorf("load circuit state: %w", err)
	}
	s.State = breaker.State(state)
	s.Generation = uint64(generation)
	if openedAt != nil {
		s.OpenedAt = openedAt.UTC()
	}
	if probeAt != nil {
		s.LastProbeAt = probeAt.UTC()
	}
	return s, now.UTC(), nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ breaker.CircuitBreaker = (*Breaker)(nil)
