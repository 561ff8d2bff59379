// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
)

// SourceID identifies an upstream pricing marketplace.
type SourceID string

// Known sources. The set is closed; priority order is configuration.
const (
	SourceTCGPlayer     SourceID = "TCGPLAYER"
	SourceEBay          SourceID = "EBAY"
	SourceJustTCG       SourceID = "JUSTTCG"
	SourcePriceCharting SourceID = "PRICECHARTING"
)

// AllSources lists every known source in declaration order.
func AllSources() []SourceID {
	return []SourceID{SourceTCGPlayer, SourceEBay, SourceJustTCG, SourcePriceCharting}
}

// ParseSourceID maps a case-insensitive name (e.g. "ebay", "JustTCG") to a SourceID.
func ParseSourceID(s string) (SourceID, error) {
	id := SourceID(strings.ToUpper(strings.TrimSpace(s)))
	if !id.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, s)
	}
	return id, nil
}

// Valid reports whether id is one of the known sources.
func (id SourceID) Valid() bool {
	switch id {
	case SourceTCGPlayer, SourceEBay, SourceJustTCG, SourcePriceCharting:
		return true
	default:
		return false
	}
}

func (id SourceID) String() string { return string(id) }

// Key is the lower-case form used in configuration keys.
func (id SourceID) Key() string { return strings.ToLower(string(id)) }
