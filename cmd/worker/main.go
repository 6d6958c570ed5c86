package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lokamart/cart-api/internal/app"
	"github.com/lokamart/cart-api/internal/cart"
	"github.com/lokamart/cart-api/internal/config"
	"github.com/lokamart/cart-api/internal/obs"
	"github.com/lokamart/cart-api/internal/promo"
)

const (
	taskExpireCarts  = "cart:expire"
	taskRecountUsage = "promo:recount_usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	cartStore := &cart.Store{Pool: pool}
	promoStore := &promo.Store{Pool: pool}

	redisOpt, err := app.AsynqRedisOpt(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	if _, err := scheduler.Register(every(cfg.ExpirySweepInterval), asynq.NewTask(taskExpireCarts, nil)); err != nil {
		logger.Fatal().Err(err).Msg("register cart expiry schedule")
	}
	if _, err := scheduler.Register(every(cfg.UsageReconcileInterval), asynq.NewTask(taskRecountUsage, nil)); err != nil {
		logger.Fatal().Err(err).Msg("register usage recount schedule")
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     2,
		ShutdownTimeout: cfg.WorkerShutdownTimeout,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskExpireCarts, func(jobCtx context.Context, _ *asynq.Task) error {
		expired, err := cartStore.ExpireStale(jobCtx, time.Now())
		if err != nil {
			logger.Error().Err(err).Msg("expire stale carts")
			return err
		}
		if expired > 0 {
			logger.Info().Int64("carts", expired).Msg("expired stale carts")
		}
		return nil
	})
	mux.HandleFunc(taskRecountUsage, func(jobCtx context.Context, _ *asynq.Task) error {
		repaired, err := promoStore.RecountUsage(jobCtx)
		if err != nil {
			logger.Error().Err(err).Msg("recount promotion usage")
			return err
		}
		if repaired > 0 {
			logger.Warn().Int64("promotions", repaired).Msg("repaired drifted usage counters")
		}
		return nil
	})

	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}

	logger.Info().Msg("worker started")
	<-ctx.Done()

	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func every(interval time.Duration) string {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return "@every " + interval.String()
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "cart-worker"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
