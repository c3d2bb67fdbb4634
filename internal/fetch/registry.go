package fetch

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/gregjones/httpcache"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/briangreenhill/pollcache/internal/config"
	"github.com/briangreenhill/pollcache/plugins"
)

// NewRegistry registers one HTTP source per configured base URL. Sources
// listed in OAUTH_SOURCES authenticate with client credentials; the others
// send their API key, if any. Without a base client the sources share one
// with an in-memory HTTP cache, so upstream ETags are revalidated.
func NewRegistry(cfg *config.Config, base *http.Client) (*plugins.Registry, error) {
	registry := plugins.NewRegistry()
	if base == nil {
		base = &http.Client{
			Timeout:   cfg.Sources.Timeout,
			Transport: httpcache.NewMemoryCacheTransport(),
		}
	}

	for name, url := range cfg.Sources.URLs {
		opts := []Option{WithHTTPClient(base)}
		if slices.Contains(cfg.OAuth.Sources, name) {
			if !cfg.HasOAuth() {
				return nil, fmt.Errorf("source %q needs OAUTH_CLIENT_ID, OAUTH_CLIENT_SECRET and OAUTH_TOKEN_URL", name)
			}
			opts = append(opts, WithClientCredentials(&clientcredentials.Config{
				ClientID:     cfg.OAuth.ClientID,
				ClientSecret: cfg.OAuth.ClientSecret,
				TokenURL:     cfg.OAuth.TokenURL,
				Scopes:       cfg.OAuth.Scopes,
			}))
		} else if key := cfg.Sources.APIKeys[name]; key != "" {
			opts = append(opts, WithAPIKey(cfg.Sources.APIKeyHeader, key))
		}

		client, err := New(url, opts...)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", name, err)
		}
		registry.Register(NewSource(name, client))
	}
	return registry, nil
}
