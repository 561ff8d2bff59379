package scheduler

import "errors"

var (
	// ErrEmptyCardID rejects refresh requests without a card.
	ErrEmptyCardID = errors.New("empty card id")
	// ErrStopped rejects work after Stop.
	ErrStopped = errors.New("scheduler stopped")
)
