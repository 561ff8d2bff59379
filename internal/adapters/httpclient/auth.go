package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// earlyRefresh is how long before expiry a cached bearer token is replaced.
const earlyRefresh = 60 * time.Second

// AuthStrategy decorates outgoing requests with credentials.
type AuthStrategy interface {
	Apply(ctx context.Context, req *http.Request) error
	// Invalidate drops cached credentials after the upstream rejected them.
	Invalidate()
}

// NoAuth sends requests unchanged.
type NoAuth struct{}

// Apply does nothing.
func (NoAuth) Apply(context.Context, *http.Request) error { return nil }

// Invalidate does nothing.
func (NoAuth) Invalidate() {}

// StaticKey attaches a fixed API key as a header or a query parameter.
type StaticKey struct {
	key        string
	header     string
	prefix     string
	queryParam string
}

// StaticKeyOption configures a StaticKey.
type StaticKeyOption func(*StaticKey)

// InHeader sends the key in header, prefixed by prefix (e.g. "Bearer ").
func InHeader(header, prefix string) StaticKeyOption {
	return func(s *StaticKey) {
		s.header = header
		s.prefix = prefix
	}
}

// InQuery sends the key as a query parameter.
func InQuery(param string) StaticKeyOption {
	return func(s *StaticKey) { s.queryParam = param }
}

// NewStaticKey creates a static key strategy. Without options the key goes
// into the Authorization header.
func NewStaticKey(key string, opts ...StaticKeyOption) *StaticKey {
	s := &StaticKey{key: key}
	for _, opt := range opts {
		opt(s)
	}
	if s.header == "" && s.queryParam == "" {
		s.header = "Authorization"
	}
	return s
}

// Apply sets the key on the request.
func (s *StaticKey) Apply(_ context.Context, req *http.Request) error {
	if s.queryParam != "" {
		q := req.URL.Query()
		q.Set(s.queryParam, s.key)
		req.URL.RawQuery = q.Encode()
	}
	if s.header != "" {
		req.Header.Set(s.header, s.prefix+s.key)
	}
	return nil
}

// Invalidate does nothing; a static key cannot be refreshed.
func (s *StaticKey) Invalidate() {}

// String describes the placement only.
func (s *StaticKey) String() string {
	if s.queryParam != "" {
		return "static-key(query:" + s.queryParam + ")"
	}
	return "static-key(header:" + s.header + ")"
}

// OAuth2ClientCredentials caches a client-credentials bearer token and replaces
// it once fewer than 60 seconds remain. Concurrent callers share one refresh.
type OAuth2ClientCredentials struct {
	cfg      clientcredentials.Config
	tokenCtx context.Context

	mu  sync.Mutex
	src oauth2.TokenSource
}

// OAuth2Option configures OAuth2ClientCredentials.
type OAuth2Option func(*OAuth2ClientCredentials)

// WithTokenHTTPClient sets the HTTP client used against the token endpoint.
func WithTokenHTTPClient(hc *http.Client) OAuth2Option {
	return func(o *OAuth2ClientCredentials) {
		if hc != nil {
			o.tokenCtx = context.WithValue(context.Background(), oauth2.HTTPClient, hc)
		}
	}
}

// NewOAuth2ClientCredentials creates the strategy. Nothing is fetched until first use.
func NewOAuth2ClientCredentials(clientID, clientSecret, tokenURL string, scopes []string, opts ...OAuth2Option) *OAuth2ClientCredentials {
	o := &OAuth2ClientCredentials{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
		},
		tokenCtx: context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: 30 * time.Second}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.src = o.newSource()
	return o
}

// exchange fetches a fresh token on every call; caching is left to the reuse wrapper.
type exchange struct {
	ctx context.Context
	cfg *clientcredentials.Config
}

func (e exchange) Token() (*oauth2.Token, error) { return e.cfg.Token(e.ctx) }

func (o *OAuth2ClientCredentials) newSource() oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(nil, exchange{ctx: o.tokenCtx, cfg: &o.cfg}, earlyRefresh)
}

func (o *OAuth2ClientCredentials) source() oauth2.TokenSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.src
}

// Apply sets the bearer token, refreshing it when needed.
func (o *OAuth2ClientCredentials) Apply(_ context.Context, req *http.Request) error {
	tok, err := o.source().Token()
	if err != nil {
		return classifyTokenError(err)
	}
	tok.SetAuthHeader(req)
	return nil
}

// Invalidate forgets the cached token so the next call exchanges again.
func (o *OAuth2ClientCredentials) Invalidate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.src = o.newSource()
}

// String never includes the client id, secret or token state.
func (o *OAuth2ClientCredentials) String() string { return "oauth2-client-credentials" }

// classifyTokenError maps a token endpoint failure to a failure kind without
// echoing the endpoint response.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		code := re.Response.StatusCode
		switch {
		case code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden:
			return fmt.Errorf("%w: token endpoint returned %d", ErrAuthentication, code)
		case code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: token endpoint returned %d", ErrUpstreamRateLimited, code)
		case code >= 500:
			return fmt.Errorf("%w: token endpoint returned %d", ErrTransient, code)
		default:
			return fmt.Errorf("%w: token endpoint returned %d", ErrAuthentication, code)
		}
	}
	return fmt.Errorf("%w: token exchange failed", ErrTransient)
}
