package fetch

import (
	"context"
	"encoding/json"
)

// Source serves cache keys from a JSON API laid out as
// GET {base}/{endpoint}?date={date}.
type Source struct {
	name   string
	client *Client
}

// NewSource names a client as a cache source.
func NewSource(name string, client *Client) *Source {
	return &Source{name: name, client: client}
}

func (s *Source) Name() string { return s.name }

// Fetch returns the raw JSON body; the cache canonicalises it.
func (s *Source) Fetch(ctx context.Context, endpoint, date string) (any, error) {
	var body json.RawMessage
	if err := s.client.GetJSON(ctx, endpoint, map[string]string{"date": date}, &body); err != nil {
		return nil, err
	}
	return body, nil
}
