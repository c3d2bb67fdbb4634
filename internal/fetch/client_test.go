package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/briangreenhill/pollcache/plugins"
)

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/prices", r.URL.Path)
		assert.Equal(t, "2024-03-15", r.URL.Query().Get("date"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"prices": [1, 2, 3]}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/v1", WithHTTPClient(srv.Client()), WithAPIKey("X-Api-Key", "secret"))
	require.NoError(t, err)

	var src plugins.Source = NewSource("gme", c)
	assert.Equal(t, "gme", src.Name())

	got, err := src.Fetch(context.Background(), "prices", "2024-03-15")
	require.NoError(t, err)
	assert.JSONEq(t, `{"prices":[1,2,3]}`, string(got.(json.RawMessage)))
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		code      int
		temporary bool
	}{
		{http.StatusNotFound, false},
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.code)
			}))
			defer srv.Close()

			c, err := New(srv.URL, WithHTTPClient(srv.Client()))
			require.NoError(t, err)
			var out any
			err = c.GetJSON(context.Background(), "x", nil, &out)

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.code, se.StatusCode)
			assert.Equal(t, tt.temporary, se.Temporary())
			assert.Contains(t, se.Error(), "nope")
		})
	}
}

func TestBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"broken":`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	_, err = NewSource("web", c).Fetch(context.Background(), "page", "2024-03-15")
	assert.Error(t, err)
}

func TestClientCredentials(t *testing.T) {
	var tokens atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokens.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/api/daily", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[{"date":"2024-03-15","kwh":12.5}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL+"/api",
		WithHTTPClient(srv.Client()),
		WithClientCredentials(&clientcredentials.Config{
			ClientID:     "id",
			ClientSecret: "secret",
			TokenURL:     srv.URL + "/oauth/token",
		}),
	)
	require.NoError(t, err)

	src := NewSource("vendor", c)
	for i := 0; i < 2; i++ {
		got, err := src.Fetch(context.Background(), "daily", "2024-03-15")
		require.NoError(t, err)
		assert.JSONEq(t, `[{"date":"2024-03-15","kwh":12.5}]`, string(got.(json.RawMessage)))
	}
	assert.Equal(t, int32(1), tokens.Load(), "token is reused")
}
