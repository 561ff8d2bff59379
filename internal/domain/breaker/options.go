package breaker

import "time"

// Option configures a Breaker.
type Option func(*Breaker)

// WithName sets the source name reported in errors.
func WithName(name string) Option {
	return func(b *Breaker) { b.name = name }
}

// WithFailureThreshold sets the consecutive failure count that opens the circuit.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.cfg.FailureThreshold = n
		}
	}
}

// WithRecoveryTimeout sets how long the circuit stays open before probing.
func WithRecoveryTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d >= 0 {
			b.cfg.RecoveryTimeout = d
		}
	}
}

// WithProbeTimeout sets the half-open probe lease.
func WithProbeTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d >= 0 {
			b.cfg.ProbeTimeout = d
		}
	}
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(b *Breaker) {
		if fn != nil {
			b.now = fn
		}
	}
}

// WithStateChange registers a hook invoked after every state transition.
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}
