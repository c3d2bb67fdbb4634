package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options configures a Store.
type Options struct {
	// Root is the cache directory, e.g. "cache".
	Root string

	// TTLs is the per-source staleness window for today's data.
	TTLs map[string]time.Duration

	// RefreshSources lists the sources whose stale entries are hash-refreshed
	// instead of refetched blindly. Nil means every source with a TTL.
	RefreshSources []string

	// Location is the zone "today" and file timestamps are computed in.
	Location *time.Location

	// Extractor finds day markers in month payloads. Extractors overrides it
	// per "source/endpoint".
	Extractor  DateExtractor
	Extractors map[string]DateExtractor

	Logger   zerolog.Logger
	Observer Observer

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// Store is the file-backed cache.
type Store struct {
	paths   PathResolver
	policy  FreshnessPolicy
	refresh map[string]bool

	extractor  DateExtractor
	extractors map[string]DateExtractor

	log zerolog.Logger
	obs Observer
	now func() time.Time

	hits, misses, sealed, partial atomic.Int64

	mu    sync.Mutex
	locks map[string]*slotLock
}

type slotLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates the cache root if needed and returns a Store over it.
func NewStore(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.New("cache root required")
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	refresh := make(map[string]bool)
	if opts.RefreshSources != nil {
		for _, s := range opts.RefreshSources {
			refresh[s] = true
		}
	} else {
		for s := range opts.TTLs {
			refresh[s] = true
		}
	}

	extractor := opts.Extractor
	if extractor == nil {
		extractor = DateFieldExtractor{Location: loc}
	}

	obs := opts.Observer
	if obs == nil {
		obs = Observers()
	}

	return &Store{
		paths:      PathResolver{Root: opts.Root, Location: loc, Now: now},
		policy:     FreshnessPolicy{TTLs: opts.TTLs, Location: loc, Now: now},
		refresh:    refresh,
		extractor:  extractor,
		extractors: opts.Extractors,
		log:        opts.Logger,
		obs:        obs,
		now:        now,
		locks:      make(map[string]*slotLock),
	}, nil
}

// Root returns the cache directory.
func (s *Store) Root() string { return s.paths.Root }

// Paths exposes the store's path resolver.
func (s *Store) Paths() PathResolver { return s.paths }

// Policy exposes the store's freshness policy.
func (s *Store) Policy() FreshnessPolicy { return s.policy }

// Today returns the current day key in the store's time zone.
func (s *Store) Today() string { return s.paths.now().Format(dayLayout) }

type saveConfig struct {
	hash     string
	metadata bool
}

// SaveOption tunes Save and GetOrFetch.
type SaveOption func(*saveConfig)

// WithHash supplies an already computed content hash.
func WithHash(hash string) SaveOption {
	return func(c *saveConfig) { c.hash = hash }
}

// AsMetadata marks the payload as an opaque snapshot that is always complete.
func AsMetadata() SaveOption {
	return func(c *saveConfig) { c.metadata = true }
}

type readConfig struct {
	hhmm      string
	ignoreTTL bool
}

// ReadOption tunes GetCachedData.
type ReadOption func(*readConfig)

// AtTime selects the file written at hhmm ("HH-MM") instead of the latest.
func AtTime(hhmm string) ReadOption {
	return func(c *readConfig) { c.hhmm = hhmm }
}

// IgnoreTTL returns the file regardless of its age.
func IgnoreTTL() ReadOption {
	return func(c *readConfig) { c.ignoreTTL = true }
}

// GetCachedData returns the cached payload for a key, or false when there is
// no usable file.
func (s *Store) GetCachedData(ctx context.Context, source, endpoint, date string, opts ...ReadOption) (json.RawMessage, bool) {
	var cfg readConfig
	for _, o := range opts {
		o(&cfg)
	}
	if validateKey(source, endpoint, date) != nil {
		return nil, false
	}

	path := s.paths.FindLatest(source, endpoint, date)
	if cfg.hhmm != "" {
		path = s.paths.FindAt(source, endpoint, date, cfg.hhmm)
	}
	if path == "" {
		return nil, false
	}

	fresh := s.policy.IsFresh(path, source, date)
	if !fresh && !cfg.ignoreTTL {
		return nil, false
	}

	entry := readEntry(s.keyLogger(source, endpoint, date), path)
	if entry == nil {
		return nil, false
	}
	if fresh {
		s.hits.Add(1)
		s.emit(ctx, Event{Kind: EventHit, Source: source, Endpoint: endpoint, Date: date, Hash: entry.DataHash, Path: path})
	}
	return entry.Data, true
}

// ExistsForDate reports whether a usable file exists without decoding it.
func (s *Store) ExistsForDate(source, endpoint, date string, ignoreTTL bool) bool {
	if validateKey(source, endpoint, date) != nil {
		return false
	}
	path := s.paths.FindLatest(source, endpoint, date)
	if path == "" {
		return false
	}
	return ignoreTTL || s.policy.IsFresh(path, source, date)
}

// Save persists data for a key and returns its content hash. The file is
// sealed with the hash when the payload is complete for its date. The new file
// is in place before older files of the key are removed.
func (s *Store) Save(ctx context.Context, source, endpoint, date string, data any, opts ...SaveOption) (string, error) {
	var cfg saveConfig
	for _, o := range opts {
		o(&cfg)
	}
	if err := validateKey(source, endpoint, date); err != nil {
		return "", err
	}

	raw, err := toRaw(data)
	if err != nil {
		return "", err
	}
	hash := cfg.hash
	if hash == "" {
		if hash, err = ContentHash(raw); err != nil {
			return "", err
		}
	}

	complete := true
	if !cfg.metadata && isMonthKey(date) {
		payload, err := decodeGeneric(raw)
		if err != nil {
			return "", err
		}
		complete = s.detector(source, endpoint).IsComplete(payload, date)
	}

	seal := ""
	if complete {
		seal = hash
	}
	path := s.paths.Path(source, endpoint, date, "", seal)
	log := s.keyLogger(source, endpoint, date)

	unlock := s.lockSlot(source, endpoint)
	defer unlock()

	entry := &Entry{Data: raw, Source: source, Endpoint: endpoint, Date: date, DataHash: hash}
	if err := writeEntry(path, entry); err != nil {
		log.Error().Err(err).Str("path", path).Msg("cache write failed")
		return "", fmt.Errorf("save %s/%s/%s: %w", source, endpoint, date, err)
	}

	keep := filepath.Base(path)
	for _, name := range s.paths.list(source, endpoint, date+"_") {
		if name == keep {
			continue
		}
		old := filepath.Join(s.paths.Dir(source, endpoint), name)
		if err := os.Remove(old); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("path", old).Msg("could not remove superseded cache file")
		}
	}

	kind := EventSavePartial
	if complete {
		kind = EventSaveSealed
		s.sealed.Add(1)
	} else {
		s.partial.Add(1)
	}
	log.Debug().Str("path", path).Bool("sealed", complete).Str("hash", hash).Msg("cache saved")
	s.emit(ctx, Event{Kind: kind, Source: source, Endpoint: endpoint, Date: date, Hash: hash, Path: path})
	return hash, nil
}

// GetOrFetch serves a key from the cache, fetching and persisting it when the
// cache cannot answer. Stale entries of refreshable sources are re-fetched and
// only rewritten with new content when their hash changed.
func (s *Store) GetOrFetch(ctx context.Context, source, endpoint, date string, fetch FetchFunc, opts ...SaveOption) (json.RawMessage, error) {
	if err := validateKey(source, endpoint, date); err != nil {
		return nil, err
	}
	log := s.keyLogger(source, endpoint, date)

	if path := s.paths.FindLatest(source, endpoint, date); path != "" {
		fresh := s.policy.IsFresh(path, source, date)
		switch {
		case fresh:
			if entry := readEntry(log, path); entry != nil {
				s.hits.Add(1)
				s.emit(ctx, Event{Kind: EventHit, Source: source, Endpoint: endpoint, Date: date, Hash: entry.DataHash, Path: path})
				return entry.Data, nil
			}
		case s.refresh[source]:
			if entry := readEntry(log, path); entry != nil {
				// A mangled file name reads as stale even for old dates;
				// history is never refetched.
				if s.policy.IsHistorical(date) {
					s.hits.Add(1)
					s.emit(ctx, Event{Kind: EventStaleServed, Source: source, Endpoint: endpoint, Date: date, Hash: entry.DataHash, Path: path})
					return entry.Data, nil
				}
				return s.hashRefresh(ctx, log, source, endpoint, date, entry, fetch, opts)
			}
		}
	}

	s.misses.Add(1)
	s.emit(ctx, Event{Kind: EventMiss, Source: source, Endpoint: endpoint, Date: date})

	start := time.Now()
	v, err := fetch(ctx)
	if err != nil {
		log.Error().Err(err).Msg("fetch failed on cache miss")
		s.emit(ctx, Event{Kind: EventFetchError, Source: source, Endpoint: endpoint, Date: date, Duration: time.Since(start)})
		return nil, err
	}
	return s.persist(ctx, source, endpoint, date, v, time.Since(start), opts)
}

func (s *Store) hashRefresh(ctx context.Context, log zerolog.Logger, source, endpoint, date string, cached *Entry, fetch FetchFunc, opts []SaveOption) (json.RawMessage, error) {
	start := time.Now()
	data, err := s.refreshOnce(ctx, source, endpoint, date, cached, fetch, opts)
	if err == nil {
		return data, nil
	}

	log.Warn().Err(err).Msg("hash refresh failed, fetching once more")
	s.emit(ctx, Event{Kind: EventRefreshRetry, Source: source, Endpoint: endpoint, Date: date, Duration: time.Since(start)})

	start = time.Now()
	v, err := fetch(ctx)
	if err != nil {
		log.Error().Err(err).Msg("fetch retry failed")
		s.emit(ctx, Event{Kind: EventFetchError, Source: source, Endpoint: endpoint, Date: date, Duration: time.Since(start)})
		return nil, err
	}
	return s.persist(ctx, source, endpoint, date, v, time.Since(start), opts)
}

func (s *Store) refreshOnce(ctx context.Context, source, endpoint, date string, cached *Entry, fetch FetchFunc, opts []SaveOption) (json.RawMessage, error) {
	start := time.Now()
	v, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	took := time.Since(start)

	fresh, err := toRaw(v)
	if err != nil {
		return nil, err
	}
	freshHash, err := ContentHash(fresh)
	if err != nil {
		return nil, err
	}
	cachedHash := cached.DataHash
	if len(cachedHash) != hashLen {
		if cachedHash, err = ContentHash(cached.Data); err != nil {
			return nil, err
		}
	}

	if freshHash == cachedHash {
		// Same content: only the timestamp moves.
		if _, err := s.Save(ctx, source, endpoint, date, cached.Data, withOption(opts, WithHash(cachedHash))...); err != nil {
			return nil, err
		}
		s.emit(ctx, Event{Kind: EventRefreshUnchanged, Source: source, Endpoint: endpoint, Date: date, Hash: cachedHash, Duration: took})
		return cached.Data, nil
	}

	if _, err := s.Save(ctx, source, endpoint, date, fresh, withOption(opts, WithHash(freshHash))...); err != nil {
		return nil, err
	}
	s.emit(ctx, Event{Kind: EventRefreshChanged, Source: source, Endpoint: endpoint, Date: date, Hash: freshHash, Duration: took})
	return fresh, nil
}

func (s *Store) persist(ctx context.Context, source, endpoint, date string, v any, took time.Duration, opts []SaveOption) (json.RawMessage, error) {
	raw, err := toRaw(v)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, Event{Kind: EventFetched, Source: source, Endpoint: endpoint, Date: date, Duration: took})
	if _, err := s.Save(ctx, source, endpoint, date, raw, opts...); err != nil {
		return nil, err
	}
	log := s.keyLogger(source, endpoint, date)
	log.Debug().Dur("fetch", took).Msg("fetched and cached")
	return raw, nil
}

// Clear deletes cache files. Empty arguments match everything; endpoint only
// narrows the search together with source. A failed deletion is logged and
// skipped. It returns the number of files removed.
func (s *Store) Clear(ctx context.Context, source, endpoint, date string) int {
	for _, part := range []string{source, endpoint} {
		if part != "" && (part == "." || part == ".." || strings.ContainsAny(part, `/\`)) {
			return 0
		}
	}

	root := s.paths.Root
	if source != "" {
		root = filepath.Join(root, source)
		if endpoint != "" {
			root = filepath.Join(root, endpoint)
		}
	}

	var victims []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), fileExt) {
			return nil
		}
		if endpoint != "" && filepath.Base(filepath.Dir(path)) != endpoint {
			return nil
		}
		if date != "" && !strings.HasPrefix(d.Name(), date+"_") {
			return nil
		}
		victims = append(victims, path)
		return nil
	})

	removed := 0
	for _, path := range victims {
		rel, err := filepath.Rel(s.paths.Root, path)
		if err != nil {
			continue
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		unlock := func() {}
		if len(parts) == 3 {
			unlock = s.lockSlot(parts[0], parts[1])
		}
		err = os.Remove(path)
		unlock()
		if err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("could not remove cache file")
			continue
		}
		removed++
	}

	s.log.Info().Str("source", source).Str("endpoint", endpoint).Str("date", date).Int("removed", removed).Msg("cache cleared")
	s.emit(ctx, Event{Kind: EventClear, Source: source, Endpoint: endpoint, Date: date, Count: removed})
	return removed
}

// Stats walks the cache directory, one goroutine per source, reading only
// file metadata.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Sources: make(map[string]SourceStats)}

	entries, err := os.ReadDir(s.paths.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stats, nil
		}
		return nil, fmt.Errorf("read cache root: %w", err)
	}

	var (
		mu         sync.Mutex
		totalBytes int64
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		source := e.Name()
		g.Go(func() error {
			var (
				files          int
				size           int64
				oldest, newest *FileInfo
			)
			err := filepath.WalkDir(filepath.Join(s.paths.Root, source), func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				if d.IsDir() || !strings.HasSuffix(d.Name(), fileExt) {
					return nil
				}
				info, err := d.Info()
				if err != nil {
					return nil
				}
				files++
				size += info.Size()
				fi := &FileInfo{Path: path, Modified: info.ModTime()}
				if oldest == nil || fi.Modified.Before(oldest.Modified) {
					oldest = fi
				}
				if newest == nil || fi.Modified.After(newest.Modified) {
					newest = fi
				}
				return nil
			})
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			stats.Sources[source] = SourceStats{Files: files, SizeMB: toMB(size)}
			stats.TotalFiles += files
			totalBytes += size
			if oldest != nil && (stats.OldestFile == nil || oldest.Modified.Before(stats.OldestFile.Modified)) {
				stats.OldestFile = oldest
			}
			if newest != nil && (stats.NewestFile == nil || newest.Modified.After(stats.NewestFile.Modified)) {
				stats.NewestFile = newest
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	stats.TotalSizeMB = toMB(totalBytes)
	return stats, nil
}

// Counters returns a snapshot of the process-lifetime counters.
func (s *Store) Counters() Counters {
	return Counters{
		Hits:         s.hits.Load(),
		Misses:       s.misses.Load(),
		SealedSaves:  s.sealed.Load(),
		PartialSaves: s.partial.Load(),
	}
}

// ResetCounters zeroes the counters.
func (s *Store) ResetCounters() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.sealed.Store(0)
	s.partial.Store(0)
}

func (s *Store) detector(source, endpoint string) CompletenessDetector {
	if ex, ok := s.extractors[source+"/"+endpoint]; ok {
		return CompletenessDetector{Extractor: ex}
	}
	return CompletenessDetector{Extractor: s.extractor}
}

func (s *Store) keyLogger(source, endpoint, date string) zerolog.Logger {
	return s.log.With().
		Str("source", source).
		Str("endpoint", endpoint).
		Str("date", date).
		Str("key", KeyFor(source, endpoint, date)).
		Logger()
}

func (s *Store) emit(ctx context.Context, ev Event) {
	ev.At = s.now()
	s.obs.Observe(ctx, ev)
}

// lockSlot serialises writers of one (source, endpoint) directory.
func (s *Store) lockSlot(source, endpoint string) func() {
	key := source + "/" + endpoint
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &slotLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func withOption(opts []SaveOption, extra SaveOption) []SaveOption {
	out := make([]SaveOption, 0, len(opts)+1)
	out = append(out, opts...)
	return append(out, extra)
}

func toMB(n int64) float64 {
	return math.Round(float64(n)/(1024*1024)*100) / 100
}
