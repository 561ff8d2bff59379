// Package alert delivers operator alerts for failures that need a human.
package alert

import (
	"context"
	"errors"
	"time"

	"github.com/okian/tcgprice/pkg/logger"
)

// Severity ranks an alert.
type Severity string

// Severities.
const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one operator notification. It must never carry credentials.
type Alert struct {
	Severity Severity
	Source   string
	Title    string
	Message  string
	At       time.Time
}

// Alerter delivers alerts.
type Alerter interface {
	Notify(ctx context.Context, a Alert) error
}

// LogAlerter writes alerts to the structured log.
type LogAlerter struct {
	logger logger.Logger
}

// NewLogAlerter creates an alerter backed by the global logger.
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{logger: logger.Get().Named("alert")}
}

// Notify logs the alert at error level.
func (l *LogAlerter) Notify(ctx context.Context, a Alert) error {
	l.logger.Error(ctx, a.Title,
		logger.String("severity", string(a.Severity)),
		logger.String("alert_source", a.Source),
		logger.String("message", a.Message),
	)
	return nil
}

// Multi fans an alert out to every alerter and joins their errors.
type Multi []Alerter

// Notify delivers to all alerters.
func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, al := range m {
		if al == nil {
			continue
		}
		if err := al.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every alert.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Alert) error { return nil }
