package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/pollcache/cache"
	"github.com/briangreenhill/pollcache/internal/fetch"
	"github.com/briangreenhill/pollcache/plugins"
)

// RefreshHandler runs cache:refresh tasks.
type RefreshHandler struct {
	Store    *cache.Store
	Registry *plugins.Registry
	Log      zerolog.Logger
}

func (h *RefreshHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p RefreshPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.Log.Error().Err(err).Msg("bad refresh payload")
		return fmt.Errorf("bad payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.Date == "" {
		p.Date = h.Store.Today()
	}
	log := h.Log.With().Str("source", p.Source).Str("endpoint", p.Endpoint).Str("date", p.Date).Logger()

	fetchFn, err := h.Registry.Fetcher(p.Source, p.Endpoint, p.Date)
	if err != nil {
		log.Error().Err(err).Msg("refresh dropped")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if p.Force {
		n := h.Store.Clear(ctx, p.Source, p.Endpoint, p.Date)
		log.Info().Int("removed", n).Msg("forced refresh cleared slot")
	}

	start := time.Now()
	_, err = h.Store.GetOrFetch(ctx, p.Source, p.Endpoint, p.Date, fetchFn)
	duration := time.Since(start)
	if err != nil {
		if isPermanentError(err) {
			log.Error().Err(err).Dur("duration", duration).Msg("permanent refresh error (dropping job)")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		log.Warn().Err(err).Dur("duration", duration).Msg("retryable refresh error")
		return err
	}
	log.Info().Dur("duration", duration).Msg("refresh done")
	return nil
}

// EventPruner deletes event log rows older than a cutoff.
type EventPruner interface {
	DeleteCacheEventsBefore(ctx context.Context, createdAt pgtype.Timestamptz) (int64, error)
}

// PruneHandler runs cache:prune_events tasks.
type PruneHandler struct {
	Events EventPruner
	Log    zerolog.Logger
	Now    func() time.Time
}

func (h *PruneHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p PruneEventsPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("bad payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.OlderThanHours <= 0 {
		return fmt.Errorf("older_than_hours must be positive: %w", asynq.SkipRetry)
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	cutoff := now().Add(-time.Duration(p.OlderThanHours) * time.Hour)
	n, err := h.Events.DeleteCacheEventsBefore(ctx, pgtype.Timestamptz{Time: cutoff, Valid: true})
	if err != nil {
		return fmt.Errorf("prune cache events: %w", err)
	}
	h.Log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("pruned cache events")
	return nil
}

// isPermanentError reports whether retrying err cannot succeed. Errors it
// does not recognise are retried.
func isPermanentError(err error) bool {
	if errors.Is(err, cache.ErrInvalidKey) || errors.Is(err, plugins.ErrUnknownSource) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *fetch.StatusError
	if errors.As(err, &se) {
		return !se.Temporary()
	}

	// Upstream answered, but with a body that is not the JSON we expect
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return true
	}

	// Token endpoint rejected the client credentials
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "invalid_client") || strings.Contains(errStr, "unauthorized_client") {
		return true
	}

	return false
}
