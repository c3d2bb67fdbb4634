// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/pollcache/cache"
	"github.com/briangreenhill/pollcache/internal/auth"
	"github.com/briangreenhill/pollcache/internal/config"
	"github.com/briangreenhill/pollcache/internal/db"
	"github.com/briangreenhill/pollcache/internal/http/routes"
	"github.com/briangreenhill/pollcache/internal/logging"
	"github.com/briangreenhill/pollcache/internal/metrics"
)

func main() {
	boot := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("config error")
	}
	if err := cfg.Validate(); err != nil {
		boot.Fatal().Err(err).Msg("invalid config")
	}

	// Logger
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		boot.Fatal().Err(err).Msg("logger error")
	}
	defer closer.Close()
	logger = logger.With().Str("svc", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prom := metrics.NewPrometheus()
	observers := []cache.Observer{prom}

	// Event log (optional)
	var events routes.EventLister
	if cfg.HasDatabase() {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("db error")
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("db migrate error")
		}
		q := db.New(pool)
		events = q
		observers = append(observers, &db.EventRecorder{Q: q, Log: logger})
	}

	opts, err := cfg.CacheOptions(logger, cache.Observers(observers...))
	if err != nil {
		logger.Fatal().Err(err).Msg("cache options")
	}
	store, err := cache.NewStore(opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("cache store")
	}

	// Refresh queue
	queue := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Error().Err(err).Msg("close asynq client")
		}
	}()

	if cfg.AdminSecret == "" {
		logger.Warn().Msg("ADMIN_SECRET not set; admin routes will reject every request")
	}

	s := routes.New(routes.ServerOptions{
		Store:   store,
		Tokens:  auth.AdminToken{Secret: []byte(cfg.AdminSecret)},
		Queue:   queue,
		Events:  events,
		Metrics: prom.Handler(),
		Log:     logger,
	})

	srv := newHTTPServer(cfg.Port, s.Router)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("cache_dir", store.Root()).Msg("starting api")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func newHTTPServer(port string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
