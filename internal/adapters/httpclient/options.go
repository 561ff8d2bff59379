package httpclient

import (
	"context"
	"net/http"
	"time"

	"github.com/okian/tcgprice/internal/adapters/alert"
	"github.com/okian/tcgprice/pkg/logger"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. Per-attempt timeouts come from
// source settings, so its own Timeout may stay zero.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAlerter sets the collaborator notified of authentication failures.
func WithAlerter(a alert.Alerter) Option {
	return func(c *Client) {
		if a != nil {
			c.alerter = a
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the clock used for Retry-After dates and latency (for testing).
func WithClock(fn func() time.Time) Option {
	return func(c *Client) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithSleeper replaces the backoff sleep (for testing).
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// WithMaxBodyBytes caps how much of a response body is read.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}
