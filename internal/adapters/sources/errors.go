package sources

import "errors"

var (
	// ErrMalformedResponse reports a reachable source that returned data the
	// adapter cannot trust (missing or negative required fields, bad JSON).
	ErrMalformedResponse = errors.New("malformed response")
	// ErrNoPrice reports a well-formed response that carries no price for the card.
	ErrNoPrice = errors.New("no price available")
	// ErrMissingIdentifier reports a card without the identifier a source needs.
	ErrMissingIdentifier = errors.New("missing card identifier")
)
