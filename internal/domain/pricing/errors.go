package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/okian/tcgprice/internal/domain/model"
)

var (
	// ErrAllSourcesFailed reports that no source produced a quote and no
	// cached quote was available.
	ErrAllSourcesFailed = errors.New("all sources failed")
	// ErrEmptyCardID rejects refreshes without a card.
	ErrEmptyCardID = errors.New("empty card id")
)

// Attempt is one source tried during a refresh.
type Attempt struct {
	Source model.SourceID
	Err    error
}

// AllSourcesFailedError lists why each source was skipped or failed.
type AllSourcesFailedError struct {
	CardID   string
	Attempts []Attempt
}

func (e *AllSourcesFailedError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("%s for card %s: no sources enabled", ErrAllSourcesFailed, e.CardID)
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Source, a.Err)
	}
	return fmt.Sprintf("%s for card %s: %s", ErrAllSourcesFailed, e.CardID, strings.Join(parts, "; "))
}

// Is matches ErrAllSourcesFailed.
func (e *AllSourcesFailedError) Is(target error) bool { return target == ErrAllSourcesFailed }
