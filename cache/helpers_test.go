package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(s string) *testClock {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var testTTLs = map[string]time.Duration{
	"vendor": 15 * time.Minute,
	"api":    15 * time.Minute,
	"web":    15 * time.Minute,
	"gme":    1440 * time.Minute,
}

func newTestStore(t *testing.T, clk *testClock, mutate ...func(*Options)) *Store {
	t.Helper()
	opts := Options{
		Root:     filepath.Join(t.TempDir(), "cache"),
		TTLs:     testTTLs,
		Location: time.UTC,
		Now:      clk.Now,
	}
	for _, m := range mutate {
		m(&opts)
	}
	s, err := NewStore(opts)
	require.NoError(t, err)
	return s
}

// plant writes an entry under an explicit HH-MM so tests control its age.
func plant(t *testing.T, s *Store, source, endpoint, date, hhmm string, data any, sealed bool) string {
	t.Helper()
	raw, err := toRaw(data)
	require.NoError(t, err)
	hash, err := ContentHash(raw)
	require.NoError(t, err)
	seal := ""
	if sealed {
		seal = hash
	}
	path := s.paths.Path(source, endpoint, date, hhmm, seal)
	require.NoError(t, writeEntry(path, &Entry{Data: raw, Source: source, Endpoint: endpoint, Date: date, DataHash: hash}))
	return path
}

// listNames returns the cache file names of one endpoint directory.
func listNames(s *Store, source, endpoint string) []string {
	return s.paths.list(source, endpoint, "")
}

type countingFetch struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (any, error)
}

func (f *countingFetch) Fetch(ctx context.Context) (any, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call)
}

func (f *countingFetch) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func returning(v any) *countingFetch {
	return &countingFetch{fn: func(int) (any, error) { return v, nil }}
}
