package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/briangreenhill/pollcache/cache"
	"github.com/briangreenhill/pollcache/internal/config"
	"github.com/briangreenhill/pollcache/internal/db"
	"github.com/briangreenhill/pollcache/internal/fetch"
	"github.com/briangreenhill/pollcache/internal/jobs"
	"github.com/briangreenhill/pollcache/internal/logging"
	"github.com/briangreenhill/pollcache/internal/metrics"
)

// Event log rows older than this are pruned once a day.
const eventRetentionHours = 24 * 30

func main() {
	boot := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("config error")
	}
	if err := cfg.Validate(); err != nil {
		boot.Fatal().Err(err).Msg("invalid config")
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		boot.Fatal().Err(err).Msg("logger error")
	}
	defer closer.Close()
	logger = logger.With().Str("svc", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prom := metrics.NewPrometheus()
	observers := []cache.Observer{prom}
	var q *db.Queries
	if cfg.HasDatabase() {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("unable to connect to database")
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("db migrate error")
		}
		q = db.New(pool)
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

	registry, err := fetch.NewRegistry(cfg, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("source registry")
	}
	logger.Info().Strs("sources", registry.List()).Msg("sources registered")

	redis := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	srv := asynq.NewServer(redis, asynq.Config{
		Concurrency:    8,
		StrictPriority: false,
		Queues: map[string]int{
			jobs.QueueRefresh: 10, // higher priority
			"default":         5,  // default priority
		},
		Logger: asynqLogger{logger},
	})
	mux := asynq.NewServeMux()
	mux.Handle(jobs.TaskRefresh, &jobs.RefreshHandler{Store: store, Registry: registry, Log: logger})
	if q != nil {
		mux.Handle(jobs.TaskPruneEvents, &jobs.PruneHandler{Events: q, Log: logger})
	}

	scheduler := asynq.NewScheduler(redis, &asynq.SchedulerOpts{Logger: asynqLogger{logger}})
	if err := registerSchedules(scheduler, cfg, q != nil); err != nil {
		logger.Fatal().Err(err).Msg("schedule error")
	}

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           prom.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := srv.Start(mux); err != nil {
			return err
		}
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})
	g.Go(func() error {
		if err := scheduler.Start(); err != nil {
			return err
		}
		<-gctx.Done()
		scheduler.Shutdown()
		return nil
	})

	logger.Info().Msg("worker running")
	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped")
	}
}

// registerSchedules enqueues every REFRESH_TARGETS entry each
// REFRESH_INTERVAL, plus a daily event log prune.
func registerSchedules(s *asynq.Scheduler, cfg *config.Config, pruneEvents bool) error {
	cronspec := "@every " + cfg.Refresh.Interval.String()
	for _, raw := range cfg.Refresh.Targets {
		p, err := jobs.ParseTarget(raw)
		if err != nil {
			return err
		}
		task, err := jobs.NewRefreshTask(p, asynq.Unique(cfg.Refresh.Interval))
		if err != nil {
			return err
		}
		if _, err := s.Register(cronspec, task); err != nil {
			return err
		}
	}
	if pruneEvents {
		task, err := jobs.NewPruneEventsTask(jobs.PruneEventsPayload{OlderThanHours: eventRetentionHours})
		if err != nil {
			return err
		}
		if _, err := s.Register("@every "+(24*time.Hour).String(), task); err != nil {
			return err
		}
	}
	return nil
}

// asynqLogger routes asynq's internal logging through zerolog.
type asynqLogger struct{ l zerolog.Logger }

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
