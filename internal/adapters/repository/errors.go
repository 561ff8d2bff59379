package repository

import "errors"

// Sentinel errors for store lookups.
var (
	ErrNotFound      = errors.New("price not found")
	ErrInvalidLimit  = errors.New("invalid limit")
	ErrEmptyCardID   = errors.New("empty card id")
	ErrUnknownDriver = errors.New("unknown storage driver")
)
