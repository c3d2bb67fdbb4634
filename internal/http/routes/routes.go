package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/pollcache/cache"
	"github.com/briangreenhill/pollcache/internal/db"
	appmw "github.com/briangreenhill/pollcache/internal/http/middleware"
	"github.com/briangreenhill/pollcache/internal/jobs"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EventLister is satisfied by *db.Queries.
type EventLister interface {
	ListCacheEvents(ctx context.Context, arg db.ListCacheEventsParams) ([]db.CacheEvent, error)
}

type Server struct {
	Router  *chi.Mux
	Store   *cache.Store
	Queue   Enqueuer    // nil disables POST /cache/refresh
	Events  EventLister // nil disables GET /cache/events
	Metrics http.Handler
	Log     zerolog.Logger
}

type ServerOptions struct {
	Store   *cache.Store
	Tokens  appmw.TokenVerifier
	Queue   Enqueuer
	Events  EventLister
	Metrics http.Handler
	Log     zerolog.Logger
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(opts.Log))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	s := &Server{Router: r, Store: opts.Store, Queue: opts.Queue, Events: opts.Events, Metrics: opts.Metrics, Log: opts.Log}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Get("/cache/stats", s.handleStats)
	r.Get("/cache/counters", s.handleCounters)
	r.Get("/cache/{source}/{endpoint}/{date}", s.handleGet)
	r.Get("/cache/{source}/{endpoint}/{date}/exists", s.handleExists)

	r.Group(func(pr chi.Router) {
		pr.Use(appmw.RequireAdmin(opts.Tokens))
		pr.Delete("/cache", s.handleClear)
		pr.Post("/cache/counters/reset", s.handleResetCounters)
		pr.Post("/cache/refresh", s.handleRefresh)
		pr.Get("/cache/events", s.handleEvents)
	})

	return s
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("encode response")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Store.Stats(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("cache stats failed")
		http.Error(w, "could not compute stats", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, r, http.StatusOK, stats)
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.Store.Counters())
}

func cacheKey(r *http.Request) (source, endpoint, date string, err error) {
	source = chi.URLParam(r, "source")
	endpoint = chi.URLParam(r, "endpoint")
	date = chi.URLParam(r, "date")
	return source, endpoint, date, cache.ValidateKey(source, endpoint, date)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	source, endpoint, date, err := cacheKey(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var opts []cache.ReadOption
	if truthy(r.URL.Query().Get("ignore_ttl")) {
		opts = append(opts, cache.IgnoreTTL())
	}
	if hhmm := r.URL.Query().Get("time"); hhmm != "" {
		if _, err := time.Parse("15-04", hhmm); err != nil {
			http.Error(w, "time must be HH-MM", http.StatusBadRequest)
			return
		}
		opts = append(opts, cache.AtTime(hhmm))
	}

	data, ok := s.Store.GetCachedData(r.Context(), source, endpoint, date, opts...)
	if !ok {
		http.Error(w, "not cached", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write cached payload")
	}
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	source, endpoint, date, err := cacheKey(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	exists := s.Store.ExistsForDate(source, endpoint, date, truthy(r.URL.Query().Get("ignore_ttl")))
	s.writeJSON(w, r, http.StatusOK, map[string]bool{"exists": exists})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	removed := s.Store.Clear(r.Context(), q.Get("source"), q.Get("endpoint"), q.Get("date"))
	hlog.FromRequest(r).Info().
		Str("admin", appmw.AdminSubject(r.Context())).
		Int("removed", removed).
		Msg("cache cleared via api")
	s.writeJSON(w, r, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleResetCounters(w http.ResponseWriter, r *http.Request) {
	s.Store.ResetCounters()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.Queue == nil {
		http.Error(w, "refresh queue not configured", http.StatusServiceUnavailable)
		return
	}

	var p jobs.RefreshPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	date := p.Date
	if date == "" {
		date = s.Store.Today()
	}
	if err := cache.ValidateKey(p.Source, p.Endpoint, date); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	task, err := jobs.NewRefreshTask(p)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("marshal refresh payload")
		http.Error(w, "failed to queue refresh job", http.StatusInternalServerError)
		return
	}
	info, err := s.Queue.EnqueueContext(r.Context(), task)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("enqueue refresh job")
		http.Error(w, "failed to queue refresh job", http.StatusInternalServerError)
		return
	}

	hlog.FromRequest(r).Info().Str("task_id", info.ID).Str("source", p.Source).Str("endpoint", p.Endpoint).Msg("refresh job queued")
	s.writeJSON(w, r, http.StatusAccepted, map[string]string{"task_id": info.ID, "queue": info.Queue})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		http.Error(w, "event log not configured", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	limit := defaultEventLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := s.Events.ListCacheEvents(r.Context(), db.ListCacheEventsParams{
		Source:   optionalText(q.Get("source")),
		Endpoint: optionalText(q.Get("endpoint")),
		Limit:    int32(limit),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("list cache events")
		http.Error(w, "could not load events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []db.CacheEvent{}
	}
	s.writeJSON(w, r, http.StatusOK, events)
}

func optionalText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func truthy(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
