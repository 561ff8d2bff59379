package model

import (
	"fmt"
	"strings"
	"time"
)

// PopularityTier drives the cache TTL of a card.
type PopularityTier string

// Popularity tiers.
const (
	TierHot  PopularityTier = "hot"
	TierWarm PopularityTier = "warm"
	TierCold PopularityTier = "cold"
)

// ParseTier parses a tier name; empty means warm.
func ParseTier(s string) (PopularityTier, error) {
	switch t := PopularityTier(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TierWarm, nil
	case TierHot, TierWarm, TierCold:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// CardRef is everything an adapter needs to look a card up.
type CardRef struct {
	ID        string
	Name      string
	Condition string
	Tier      PopularityTier
	// ExternalIDs holds per-marketplace identifiers; missing entries fall back to ID.
	ExternalIDs map[SourceID]string
}

// IdentifierFor returns the identifier to send to a source.
func (c CardRef) IdentifierFor(source SourceID) string {
	if id, ok := c.ExternalIDs[source]; ok && id != "" {
		return id
	}
	return c.ID
}

// SearchTerm is the free-text query used by listing-based sources.
func (c CardRef) SearchTerm(source SourceID) string {
	if id, ok := c.ExternalIDs[source]; ok && id != "" {
		return id
	}
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// RefreshTask is one unit of refresh work for a card.
type RefreshTask struct {
	ID         string
	CardID     string
	EnqueuedAt time.Time
	DedupKey   string
	Attempt    int
}
