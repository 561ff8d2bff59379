package sources

import (
	"fmt"
	"net/http"

	"github.com/okian/tcgprice/internal/adapters/httpclient"
	"github.com/okian/tcgprice/internal/config"
	"github.com/okian/tcgprice/internal/domain/model"
)

// AuthFromConfig builds the auth strategy a source is configured with.
// tokenClient is used for OAuth2 token exchanges and may be nil.
func AuthFromConfig(ac config.AuthConfig, tokenClient *http.Client) (httpclient.AuthStrategy, error) {
	switch ac.Type {
	case "", config.AuthNone:
		return httpclient.NoAuth{}, nil
	case config.AuthOAuth2:
		return httpclient.NewOAuth2ClientCredentials(
			ac.ClientID, ac.ClientSecret.Reveal(), ac.TokenURL, ac.Scopes,
			httpclient.WithTokenHTTPClient(tokenClient),
		), nil
	case config.AuthAPIKey:
		if ac.QueryParam != "" {
			return httpclient.NewStaticKey(ac.APIKey.Reveal(), httpclient.InQuery(ac.QueryParam)), nil
		}
		return httpclient.NewStaticKey(ac.APIKey.Reveal(), httpclient.InHeader(ac.Header, ac.Prefix)), nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", ac.Type)
	}
}

// New creates the adapter for one source.
func New(id model.SourceID, exec Executor, baseURL string, opts ...Option) (Adapter, error) {
	switch id {
	case model.SourceJustTCG:
		return NewJustTCG(exec, baseURL, opts...), nil
	case model.SourcePriceCharting:
		return NewPriceCharting(exec, baseURL, opts...), nil
	case model.SourceTCGPlayer:
		return NewTCGPlayer(exec, baseURL, opts...), nil
	case model.SourceEBay:
		return NewEBay(exec, baseURL, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownSource, id)
	}
}

// FromConfig creates an adapter for every enabled source, keyed by source.
func FromConfig(cfg *config.Config, exec Executor, tokenClient *http.Client) (map[model.SourceID]Adapter, error) {
	out := make(map[model.SourceID]Adapter)
	for _, id := range model.AllSources() {
		sc := cfg.Sources.Get(id)
		if sc == nil || !sc.Enabled {
			continue
		}
		auth, err := AuthFromConfig(sc.Auth, tokenClient)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		a, err := New(id, exec, sc.BaseURL, WithAuth(auth), WithSampleSize(sc.SampleSize))
		if err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, nil
}
