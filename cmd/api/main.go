package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lokamart/cart-api/internal/app"
	"github.com/lokamart/cart-api/internal/cart"
	"github.com/lokamart/cart-api/internal/catalog"
	"github.com/lokamart/cart-api/internal/checkout"
	"github.com/lokamart/cart-api/internal/common"
	"github.com/lokamart/cart-api/internal/config"
	"github.com/lokamart/cart-api/internal/events"
	"github.com/lokamart/cart-api/internal/health"
	httpmiddleware "github.com/lokamart/cart-api/internal/http/middleware"
	"github.com/lokamart/cart-api/internal/lock"
	"github.com/lokamart/cart-api/internal/obs"
	"github.com/lokamart/cart-api/internal/promo"
	"github.com/lokamart/cart-api/internal/ratelimit"
	"github.com/lokamart/cart-api/internal/security"
	"github.com/lokamart/cart-api/internal/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "cartapi")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "cart-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if envBool("DB_RUN_MIGRATIONS", true) {
		migrator, err := app.NewMigrator(cfg.DatabaseURL, cfg.MigrationsDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise migrator")
		}
		if err := app.RunMigrations(migrator); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "cart-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	products := &catalog.Service{
		Store: &catalog.Store{Pool: pool},
		Cache: catalog.NewCache(redisClient, cfg.ProductCacheTTL),
	}

	promoStore := &promo.Store{Pool: pool}
	ledger := &promo.Ledger{Store: promoStore, Log: logger}
	promoHandler := &promo.Handler{Store: promoStore, Validate: validator.New()}

	bus := &events.Bus{Store: &events.PGStore{Pool: pool}}

	cartStore := &cart.Store{Pool: pool}
	orchestrator := &cart.Orchestrator{Promos: promoStore, Ledger: ledger, Log: logger}

	cartSvc := &cart.Service{
		Carts:       cartStore,
		Products:    products,
		Promos:      promoStore,
		Ledger:      ledger,
		Orc:         orchestrator,
		Locks:       lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetry},
		Bus:         bus,
		TTL:         cfg.CartTTL,
		LockTTL:     cfg.CartLockTTL,
		PriceListID: cfg.PriceListID,
		Log:         logger,
	}
	cartHandler := &cart.Handler{Svc: cartSvc, Currency: cfg.CurrencyCode}

	checkoutSvc := &checkout.Service{
		Carts:   cartStore,
		Orc:     orchestrator,
		Ledger:  ledger,
		Orders:  &checkout.PGOrders{Pool: pool},
		Bus:     bus,
		Locks:   cartSvc.Locks,
		LockTTL: cfg.CartLockTTL,
		Log:     logger,
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc}

	limiterStore, err := app.NewLimiterStore(redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise limiter store")
	}
	rateLimit := ratelimit.Middleware{
		Limiter: app.NewRateLimiter(limiterStore, limiter.Rate{
			Period: cfg.RateLimitPeriod,
			Limit:  cfg.RateLimitRequests,
		}),
	}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	resolver := tenant.NewResolver(cfg.StoreHeader, cfg.UserHeader, cfg.StoreRootDomain, cfg.DefaultStore)

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: envBool("SECURE_HEADERS", true), EnableHSTS: envBool("SECURE_HSTS", false)}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", cfg.StoreHeader, cfg.UserHeader, "Idempotency-Key"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      health.Deps{Pool: pool, Redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(resolver.Middleware)
		v.Use(security.BodyLimit{Max: 1 << 20}.Middleware)

		v.Route("/cart", func(c chi.Router) {
			c.Use(httpmiddleware.RequireIdentity)
			c.Use(rateLimit.Handler)
			c.Get("/", cartHandler.Get)
			c.Get("/promotions/applicable", cartHandler.ApplicablePromotions)
			c.Group(func(g chi.Router) {
				g.Use(idem.Middleware)
				g.Post("/items", cartHandler.AddItem)
				g.Patch("/items/{productID}", cartHandler.UpdateItem)
				g.Delete("/items/{productID}", cartHandler.RemoveItem)
				g.Delete("/", cartHandler.Clear)
				g.Post("/promotions", cartHandler.ApplyPromotion)
				g.Delete("/promotions/{promotionID}", cartHandler.RemovePromotion)
				g.Delete("/promotions", cartHandler.RemoveAllPromotions)
			})
		})

		v.With(httpmiddleware.RequireIdentity, rateLimit.Handler, idem.Middleware).Post("/checkout", checkoutHandler.Create)

		v.Route("/admin/promotions", func(admin chi.Router) {
			admin.Post("/", promoHandler.Create)
			admin.Get("/", promoHandler.List)
			admin.Get("/{promotionID}", promoHandler.Get)
			admin.Put("/{promotionID}", promoHandler.Update)
			admin.Get("/{promotionID}/usage", promoHandler.Usage)
		})
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		health.SetReady(false)
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server shutdown complete")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
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

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
