package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/pollcache/cache"
)

const defaultRecordTimeout = 2 * time.Second

// recordedKinds are the events worth keeping; hits and misses only go to
// metrics.
var recordedKinds = map[cache.EventKind]bool{
	cache.EventStaleServed:      true,
	cache.EventRefreshUnchanged: true,
	cache.EventRefreshChanged:   true,
	cache.EventRefreshRetry:     true,
	cache.EventSaveSealed:       true,
	cache.EventSavePartial:      true,
	cache.EventFetchError:       true,
	cache.EventClear:            true,
}

// EventRecorder is a cache.Observer that appends events to cache_events.
type EventRecorder struct {
	Q       *Queries
	Log     zerolog.Logger
	Timeout time.Duration
}

// Observe implements cache.Observer. Insert failures are logged, never
// surfaced to the cache caller.
func (r *EventRecorder) Observe(ctx context.Context, ev cache.Event) {
	if !recordedKinds[ev.Kind] {
		return
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultRecordTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	err := r.Q.InsertCacheEvent(ctx, InsertCacheEventParams{
		ID:         uuid.New(),
		Kind:       string(ev.Kind),
		Source:     ev.Source,
		Endpoint:   ev.Endpoint,
		Date:       text(ev.Date),
		DataHash:   text(ev.Hash),
		Path:       text(ev.Path),
		FileCount:  int32(ev.Count),
		DurationMs: pgtype.Int8{Int64: ev.Duration.Milliseconds(), Valid: ev.Duration > 0},
		CreatedAt:  pgtype.Timestamptz{Time: at.UTC(), Valid: true},
	})
	if err != nil {
		r.Log.Warn().Err(err).Str("kind", string(ev.Kind)).Str("source", ev.Source).Msg("record cache event failed")
	}
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
