package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/pollcache/internal/config"
)

func TestNewRegistry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"key": r.Header.Get("X-Api-Key")})
	}))
	defer srv.Close()

	cfg := &config.Config{Sources: config.SourcesConfig{
		URLs:         map[string]string{"gme": srv.URL, "web": srv.URL},
		APIKeys:      map[string]string{"gme": "k1"},
		APIKeyHeader: "X-Api-Key",
	}}
	registry, err := NewRegistry(cfg, srv.Client())
	require.NoError(t, err)
	assert.Equal(t, []string{"gme", "web"}, registry.List())

	fetch, err := registry.Fetcher("gme", "data", "2024-03-15")
	require.NoError(t, err)
	got, err := fetch(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"k1"}`, string(got.(json.RawMessage)))

	fetch, err = registry.Fetcher("web", "page", "2024-03-15")
	require.NoError(t, err)
	got, err = fetch(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":""}`, string(got.(json.RawMessage)))
}

func TestNewRegistryOAuthIncomplete(t *testing.T) {
	cfg := &config.Config{
		Sources: config.SourcesConfig{URLs: map[string]string{"vendor": "https://vendor.test"}},
		OAuth:   config.OAuthConfig{Sources: []string{"vendor"}, ClientID: "id"},
	}
	_, err := NewRegistry(cfg, nil)
	assert.Error(t, err)
}

func TestNewRegistryRevalidatesETag(t *testing.T) {
	var full, notModified int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified++
			w.WriteHeader(http.StatusNotModified)
			return
		}
		full++
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"prices":[1,2,3]}`))
	}))
	defer srv.Close()

	cfg := &config.Config{Sources: config.SourcesConfig{
		URLs:    map[string]string{"gme": srv.URL},
		Timeout: time.Second,
	}}
	registry, err := NewRegistry(cfg, nil)
	require.NoError(t, err)

	for n := 0; n < 2; n++ {
		fetch, err := registry.Fetcher("gme", "data", "2024-03-15")
		require.NoError(t, err)
		got, err := fetch(context.Background())
		require.NoError(t, err)
		assert.JSONEq(t, `{"prices":[1,2,3]}`, string(got.(json.RawMessage)))
	}
	assert.Equal(t, 1, full)
	assert.Equal(t, 1, notModified)
}
