package cache

import (
	"context"
	"encoding/json"
)

// SourceAdapter binds a Store to one upstream source so collectors don't
// repeat the source name on every call.
type SourceAdapter struct {
	store  *Store
	source string
}

// NewSourceAdapter creates an adapter for source.
func NewSourceAdapter(store *Store, source string) *SourceAdapter {
	return &SourceAdapter{store: store, source: source}
}

// Source returns the bound source name.
func (sa *SourceAdapter) Source() string { return sa.source }

// GetOrFetch calls Store.GetOrFetch for the bound source.
func (sa *SourceAdapter) GetOrFetch(ctx context.Context, endpoint, date string, fetch FetchFunc, opts ...SaveOption) (json.RawMessage, error) {
	return sa.store.GetOrFetch(ctx, sa.source, endpoint, date, fetch, opts...)
}

// Cached calls Store.GetCachedData for the bound source.
func (sa *SourceAdapter) Cached(ctx context.Context, endpoint, date string, opts ...ReadOption) (json.RawMessage, bool) {
	return sa.store.GetCachedData(ctx, sa.source, endpoint, date, opts...)
}

// Save calls Store.Save for the bound source.
func (sa *SourceAdapter) Save(ctx context.Context, endpoint, date string, data any, opts ...SaveOption) (string, error) {
	return sa.store.Save(ctx, sa.source, endpoint, date, data, opts...)
}

// Exists calls Store.ExistsForDate for the bound source.
func (sa *SourceAdapter) Exists(endpoint, date string, ignoreTTL bool) bool {
	return sa.store.ExistsForDate(sa.source, endpoint, date, ignoreTTL)
}

// FetchInto decodes the payload for (endpoint, date) into out, fetching it
// when needed.
func (sa *SourceAdapter) FetchInto(ctx context.Context, endpoint, date string, fetch FetchFunc, out any) error {
	raw, err := sa.GetOrFetch(ctx, endpoint, date, fetch)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
