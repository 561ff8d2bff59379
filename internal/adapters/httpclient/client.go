// Package httpclient is the only place that talks to marketplaces over the
// network. Every call passes the source's circuit breaker and rate limiter,
// carries credentials from an AuthStrategy, and retries transient failures.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/okian/tcgprice/internal/adapters/alert"
	"github.com/okian/tcgprice/internal/domain/breaker"
	"github.com/okian/tcgprice/internal/domain/model"
	"github.com/okian/tcgprice/internal/domain/ratelimit"
	"github.com/okian/tcgprice/internal/domain/registry"
	"github.com/okian/tcgprice/internal/domain/retry"
	"github.com/okian/tcgprice/pkg/logger"
	"github.com/okian/tcgprice/pkg/metrics"
)

const (
	defaultMaxBody = 4 << 20
	alertTimeout   = 10 * time.Second
)

// Registry resolves the breaker, limiter and settings of a source.
type Registry interface {
	Get(ctx context.Context, id model.SourceID) (*registry.Entry, error)
}

// Request is one logical upstream call.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is a 2xx upstream response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Client executes requests for every source.
type Client struct {
	registry   Registry
	httpClient *http.Client
	alerter    alert.Alerter
	logger     logger.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	maxBody    int64
	userAgent  string
}

// New creates a client over the given registry.
func New(reg Registry, opts ...Option) *Client {
	c := &Client{
		registry:   reg,
		httpClient: &http.Client{},
		alerter:    alert.Nop{},
		logger:     logger.Get().Named("httpclient"),
		now:        time.Now,
		sleep:      retry.Sleep,
		maxBody:    defaultMaxBody,
		userAgent:  "tcgprice/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute performs req against source. The circuit breaker is consulted once
// and updated once per call, from the final outcome.
func (c *Client) Execute(ctx context.Context, source model.SourceID, req *Request, auth AuthStrategy) (*Response, error) {
	start := c.now()
	entry, err := c.registry.Get(ctx, source)
	if err != nil {
		return nil, err
	}
	if auth == nil {
		auth = NoAuth{}
	}

	ticket, err := entry.Breaker.Allow(ctx)
	if err != nil {
		metrics.RecordBreakerRejection(source.String())
		metrics.RecordSourceRequest(source.String(), "circuit_open", 0)
		return nil, err
	}

	resp, outcome, err := c.run(ctx, source, entry, req, auth)

	if rerr := entry.Breaker.Record(context.WithoutCancel(ctx), ticket, outcome); rerr != nil {
		c.logger.Warn(ctx, "breaker record failed",
			logger.String("source", source.String()),
			logger.Error(rerr),
		)
	}
	metrics.RecordSourceRequest(source.String(), outcomeLabel(err), float64(c.now().Sub(start).Milliseconds()))
	return resp, err
}

// run performs the attempts and decides how the breaker should count the call.
func (c *Client) run(ctx context.Context, source model.SourceID, entry *registry.Entry, req *Request, auth AuthStrategy) (*Response, breaker.Outcome, error) {
	s := entry.Settings
	policy := retry.FromRetries(s.MaxRetries, retry.Exponential(s.BackoffBase, s.BackoffBase/2), IsRetryable)

	var lastErr error
	for attempt := 0; ; attempt++ {
		if _, err := entry.Limiter.Acquire(ctx); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
				metrics.RecordRateLimitRejection(source.String())
			}
			if attempt == 0 || ctx.Err() != nil {
				return nil, breaker.OutcomeNeutral, err
			}
			// Budget ran out mid-retry; the transient failure stands.
			return nil, breaker.OutcomeFailure, lastErr
		}

		resp, err := c.attempt(ctx, s.RequestTimeout, req, auth)
		if err == nil {
			resp.Attempts = attempt + 1
			return resp, breaker.OutcomeSuccess, nil
		}
		lastErr = err

		switch {
		case ctx.Err() != nil:
			return nil, breaker.OutcomeNeutral, err
		case errors.Is(err, ErrAuthentication):
			auth.Invalidate()
			c.reportAuthFailure(ctx, source, err)
			return nil, breaker.OutcomeFailure, err
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrPermanent):
			return nil, breaker.OutcomeNeutral, err
		}

		if !policy.ShouldRetry(attempt, err) {
			return nil, breaker.OutcomeFailure, err
		}
		wait := policy.Delay(attempt)
		if ra, ok := retryAfterOf(err); ok {
			wait = ra
		}
		metrics.RecordSourceRetry(source.String())
		c.logger.Debug(ctx, "retrying upstream call",
			logger.String("source", source.String()),
			logger.Int("attempt", attempt+1),
			logger.Duration("backoff", wait),
			logger.Error(err),
		)
		if serr := c.sleep(ctx, wait); serr != nil {
			return nil, breaker.OutcomeNeutral, err
		}
	}
}

// attempt performs one HTTP round trip under its own timeout.
func (c *Client) attempt(ctx context.Context, timeout time.Duration, req *Request, auth AuthStrategy) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	hreq, err := c.build(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPermanent, err)
	}
	if err := auth.Apply(ctx, hreq); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(hreq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, transportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp, body, c.now())
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) build(ctx context.Context, req *Request) (*http.Request, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if hreq.Header.Get("Accept") == "" {
		hreq.Header.Set("Accept", "application/json")
	}
	if c.userAgent != "" {
		hreq.Header.Set("User-Agent", c.userAgent)
	}
	return hreq, nil
}

// transportError strips the request URL, which may carry a query-param key.
func transportError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%w: %s: %w", ErrTransient, ue.Op, ue.Err)
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

func (c *Client) reportAuthFailure(ctx context.Context, source model.SourceID, err error) {
	metrics.RecordAuthFailure(source.String())
	c.logger.Error(ctx, "upstream rejected credentials",
		logger.String("source", source.String()),
		logger.Error(err),
	)
	a := alert.Alert{
		Severity: alert.SeverityCritical,
		Source:   source.String(),
		Title:    "marketplace authentication failed",
		Message:  err.Error(),
		At:       c.now(),
	}
	go func() {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
		defer cancel()
		if nerr := c.alerter.Notify(actx, a); nerr != nil {
			c.logger.Warn(actx, "alert delivery failed", logger.Error(nerr))
		}
	}()
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return "rate_limited_local"
	case errors.Is(err, ErrAuthentication):
		return "auth_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermanent):
		return "permanent_error"
	case errors.Is(err, ErrUpstreamRateLimited):
		return "rate_limited_upstream"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTransient):
		return "cancelled"
	default:
		return "transient_error"
	}
}
