package config

import "log/slog"

const redacted = "[REDACTED]"

// Secret holds a credential. It prints and logs as [REDACTED]; only Reveal
// returns the value.
type Secret string

// Reveal returns the raw credential for use on the wire.
func (s Secret) Reveal() string { return string(s) }

// IsSet reports whether a value was configured.
func (s Secret) IsSet() bool { return s != "" }

func (s Secret) String() string { return redacted }

// GoString keeps %#v from printing the value.
func (s Secret) GoString() string { return redacted }

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }
