package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Failure kinds. Every error returned by Execute matches at most one.
var (
	// ErrTransient covers timeouts, connection errors and 5xx responses.
	ErrTransient = errors.New("transient upstream error")
	// ErrUpstreamRateLimited is an HTTP 429 from the marketplace.
	ErrUpstreamRateLimited = errors.New("upstream rate limited")
	// ErrAuthentication is a 401/403 or a failed token exchange.
	ErrAuthentication = errors.New("authentication failed")
	// ErrNotFound is a 404; it says nothing about source health.
	ErrNotFound = errors.New("not found")
	// ErrPermanent is any other 4xx.
	ErrPermanent = errors.New("permanent upstream error")
)

// APIError describes a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
	// RetryAfter is the parsed Retry-After header, zero when absent.
	RetryAfter time.Duration
	kind       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%v: http %d: %s", e.kind, e.StatusCode, e.Message)
}

// Unwrap exposes the failure kind for errors.Is.
func (e *APIError) Unwrap() error { return e.kind }

// IsRetryable reports whether the status deserves another attempt.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func newAPIError(resp *http.Response, body []byte, now time.Time) *APIError {
	e := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		Body:       body,
		kind:       classifyStatus(resp.StatusCode),
	}
	if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), now); ok {
		e.RetryAfter = d
	}
	return e
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuthentication
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrUpstreamRateLimited
	case code >= 500:
		return ErrTransient
	default:
		return ErrPermanent
	}
}

// IsRetryable is the retry predicate of the base client.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrUpstreamRateLimited)
}

// parseRetryAfter accepts delta-seconds or an HTTP-date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0), true
	}
	return 0, false
}

func retryAfterOf(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}
	return 0, false
}
