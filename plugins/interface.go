// Package plugins defines the common interface for upstream data sources
package plugins

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/briangreenhill/pollcache/cache"
)

// ErrUnknownSource is returned when no source is registered under a name.
var ErrUnknownSource = errors.New("unknown source")

// Source defines the minimal interface that all upstream providers must implement
type Source interface {
	// Name returns the cache source name (e.g., "gme", "vendor")
	Name() string

	// Fetch retrieves the payload for one endpoint and date key
	Fetch(ctx context.Context, endpoint, date string) (any, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc struct {
	SourceName string
	FetchFunc  func(ctx context.Context, endpoint, date string) (any, error)
}

// Name implements Source.
func (s SourceFunc) Name() string { return s.SourceName }

// Fetch implements Source.
func (s SourceFunc) Fetch(ctx context.Context, endpoint, date string) (any, error) {
	return s.FetchFunc(ctx, endpoint, date)
}

// Registry manages available sources
type Registry struct {
	sources map[string]Source
}

// NewRegistry creates a new source registry
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]Source),
	}
}

// Register adds a source to the registry
func (r *Registry) Register(source Source) {
	r.sources[source.Name()] = source
}

// Get retrieves a source by name
func (r *Registry) Get(name string) (Source, bool) {
	source, exists := r.sources[name]
	return source, exists
}

// Fetcher binds a source fetch to one cache key.
func (r *Registry) Fetcher(name, endpoint, date string) (cache.FetchFunc, error) {
	source, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return func(ctx context.Context) (any, error) {
		return source.Fetch(ctx, endpoint, date)
	}, nil
}

// List returns all registered source names, sorted
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
