package model

import "errors"

// Sentinel errors shared across packages.
var (
	ErrUnknownSource = errors.New("unknown source")
	ErrUnknownTier   = errors.New("unknown popularity tier")
	ErrCardNotFound  = errors.New("card not found")
)
