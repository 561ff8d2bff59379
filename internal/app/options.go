package service

import (
	"net/http"

	"github.com/okian/tcgprice/internal/adapters/alert"
	"github.com/okian/tcgprice/internal/adapters/repository"
	"github.com/okian/tcgprice/internal/domain/registry"
	"github.com/okian/tcgprice/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore replaces the store selected by configuration. The caller keeps
// ownership; Stop does not close it.
func WithStore(st repository.Store) Option {
	return func(s *Service) { s.store = st }
}

// WithBackend replaces the breaker and limiter backend selected by configuration.
func WithBackend(b registry.Backend) Option {
	return func(s *Service) { s.backend = b }
}

// WithHTTPClient sets the client used for marketplace and token calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Service) {
		if hc != nil {
			s.httpClient = hc
		}
	}
}

// WithAlerter replaces the configured alert channels.
func WithAlerter(a alert.Alerter) Option {
	return func(s *Service) { s.alerter = a }
}
