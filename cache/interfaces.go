// Package cache provides the disk-resident cache that sits in front of the
// polled upstream sources. Entries are keyed by (source, endpoint, date) and
// stored as gzip-compressed JSON envelopes under
//
//	{root}/{source}/{endpoint}/{date}_{HH-MM}[_{hash}].json.gz
//
// A file carrying the hash segment is "sealed": its payload was judged
// complete for its date. Dates before today never expire.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidKey is returned when a source, endpoint or date cannot be mapped
// to a cache path.
var ErrInvalidKey = errors.New("invalid cache key")

// Entry is the on-disk envelope of a cached payload.
type Entry struct {
	Data     json.RawMessage `json:"data"`
	Source   string          `json:"source"`
	Endpoint string          `json:"endpoint"`
	Date     string          `json:"date"`
	DataHash string          `json:"data_hash"`
}

// FetchFunc retrieves a fresh payload from upstream. The returned value must be
// JSON-serialisable.
type FetchFunc func(ctx context.Context) (any, error)

// DateExtractor finds the calendar days of a month that a payload covers.
// Keys of the returned set are YYYY-MM-DD strings.
type DateExtractor interface {
	ExtractDatesForMonth(payload any, year int, month time.Month) map[string]struct{}
}

// Counters are the process-lifetime cache statistics.
type Counters struct {
	Hits         int64 `json:"cache_hits"`
	Misses       int64 `json:"cache_misses"`
	SealedSaves  int64 `json:"sealed_saves"`
	PartialSaves int64 `json:"partial_saves"`
}

// Stats summarises the cache directory without decoding any file.
type Stats struct {
	TotalFiles  int                    `json:"total_files"`
	TotalSizeMB float64                `json:"total_size_mb"`
	Sources     map[string]SourceStats `json:"sources"`
	OldestFile  *FileInfo              `json:"oldest_file"`
	NewestFile  *FileInfo              `json:"newest_file"`
}

// SourceStats holds per-source totals.
type SourceStats struct {
	Files  int     `json:"files"`
	SizeMB float64 `json:"size_mb"`
}

// FileInfo identifies a cache file by path and modification time.
type FileInfo struct {
	Path     string    `json:"path"`
	Modified time.Time `json:"modified"`
}

// EventKind names something that happened to a cache slot.
type EventKind string

const (
	EventHit              EventKind = "hit"
	EventMiss             EventKind = "miss"
	EventFetched          EventKind = "fetched"
	EventStaleServed      EventKind = "stale_served"
	EventRefreshUnchanged EventKind = "refresh_unchanged"
	EventRefreshChanged   EventKind = "refresh_changed"
	EventRefreshRetry     EventKind = "refresh_retry"
	EventSaveSealed       EventKind = "save_sealed"
	EventSavePartial      EventKind = "save_partial"
	EventFetchError       EventKind = "fetch_error"
	EventClear            EventKind = "clear"
)

// Event describes one cache operation outcome.
type Event struct {
	Kind     EventKind
	Source   string
	Endpoint string
	Date     string
	Hash     string
	Path     string
	// Duration is set for events that involved an upstream fetch.
	Duration time.Duration
	// Count is the number of files removed by a clear.
	Count int
	At    time.Time
}

// Observer receives cache events. Implementations must not block for long:
// they run inline with the cache operation.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, ev Event)

// Observe calls f(ctx, ev).
func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

type multiObserver []Observer

func (m multiObserver) Observe(ctx context.Context, ev Event) {
	for _, o := range m {
		o.Observe(ctx, ev)
	}
}

// Observers fans events out to every non-nil observer.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}
