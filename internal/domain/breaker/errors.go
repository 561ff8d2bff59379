package breaker

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is matched by every rejection from an open or probing circuit.
var ErrCircuitOpen = errors.New("circuit open")

// OpenError is returned when the circuit for a source rejects a call
// without attempting the network.
type OpenError struct {
	Source string
	State  State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("breaker: circuit %s: %s", e.State, e.Source)
}

// Is makes errors.Is(err, ErrCircuitOpen) hold.
func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }
