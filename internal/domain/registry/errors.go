package registry

import "errors"

// Sentinel errors for registry lookups.
var (
	ErrUnknownSource  = errors.New("source not registered")
	ErrSourceDisabled = errors.New("source disabled")
)
