package breaker

import "time"

// State is the circuit state.
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls rejected immediately
	StateHalfOpen              // one probe call allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Outcome is the final result of one guarded call.
type Outcome int

const (
	// OutcomeSuccess closes a probing circuit and clears the failure streak.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure counts against source health.
	OutcomeFailure
	// OutcomeNeutral changes nothing except releasing a probe slot.
	OutcomeNeutral
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "neutral"
	}
}

// Settings are the per-source thresholds.
type Settings struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	// ProbeTimeout frees a half-open probe slot whose holder never reported.
	// Zero keeps the slot until Record is called.
	ProbeTimeout time.Duration
}

// Ticket is handed out by Allow and must be passed back to Record.
type Ticket struct {
	Generation uint64
	Probe      bool
}

// Snapshot is the complete circuit state. Both the in-memory breaker and the
// shared-store backend persist exactly this and drive it through Admit/Apply.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
	LastProbeAt         time.Time
	ProbeInFlight       bool
	// Generation changes on every state transition and every probe grant;
	// results carrying an older generation are ignored.
	Generation uint64
}

// Admit decides whether a call may proceed at now.
func (s Snapshot) Admit(cfg Settings, now time.Time) (Snapshot, Ticket, bool) {
	switch s.State {
	case StateClosed:
		return s, Ticket{Generation: s.Generation}, true
	case StateOpen:
		if now.Sub(s.OpenedAt) < cfg.RecoveryTimeout {
			return s, Ticket{}, false
		}
		s.State = StateHalfOpen
		return s.grantProbe(now)
	case StateHalfOpen:
		if s.ProbeInFlight && (cfg.ProbeTimeout <= 0 || now.Sub(s.LastProbeAt) < cfg.ProbeTimeout) {
			return s, Ticket{}, false
		}
		return s.grantProbe(now)
	default:
		return s, Ticket{}, false
	}
}

func (s Snapshot) grantProbe(now time.Time) (Snapshot, Ticket, bool) {
	s.Generation++
	s.ProbeInFlight = true
	s.LastProbeAt = now
	return s, Ticket{Generation: s.Generation, Probe: true}, true
}

// Apply folds the outcome of a ticket into the state.
func (s Snapshot) Apply(cfg Settings, t Ticket, o Outcome, now time.Time) Snapshot {
	if t.Generation != s.Generation {
		return s
	}
	switch s.State {
	case StateClosed:
		switch o {
		case OutcomeSuccess:
			s.ConsecutiveFailures = 0
		case OutcomeFailure:
			s.ConsecutiveFailures++
			if s.ConsecutiveFailures >= max(cfg.FailureThreshold, 1) {
				s.State = StateOpen
				s.OpenedAt = now
				s.Generation++
			}
		}
	case StateHalfOpen:
		if !t.Probe {
			return s
		}
		s.ProbeInFlight = false
		switch o {
		case OutcomeSuccess:
			s.State = StateClosed
			s.ConsecutiveFailures = 0
			s.Generation++
		case OutcomeFailure:
			s.State = StateOpen
			s.OpenedAt = now
			s.Generation++
		}
	}
	return s
}
