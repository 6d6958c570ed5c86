package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	MigrationsDir      string
	CORSAllowedOrigins []string

	StoreHeader     string
	UserHeader      string
	StoreRootDomain string
	DefaultStore    string

	CurrencyCode    string
	PriceListID     int
	CartTTL         time.Duration
	CartLockTTL     time.Duration
	LockRetry       time.Duration
	IdempotencyTTL  time.Duration
	ProductCacheTTL time.Duration

	RateLimitPeriod   time.Duration
	RateLimitRequests int64

	ExpirySweepInterval    time.Duration
	UsageReconcileInterval time.Duration
	WorkerShutdownTimeout  time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		MigrationsDir:      valueOrDefault(k.String("MIGRATIONS_DIR"), "migrations"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		StoreHeader:     valueOrDefault(k.String("STORE_HEADER"), "X-Store-ID"),
		UserHeader:      valueOrDefault(k.String("USER_HEADER"), "X-User-ID"),
		StoreRootDomain: k.String("STORE_ROOT_DOMAIN"),
		DefaultStore:    k.String("DEFAULT_STORE"),

		CurrencyCode:    valueOrDefault(k.String("PRICING_CURRENCY"), "USD"),
		PriceListID:     intOrDefault(k, "PRICING_PRICE_LIST_ID", 2),
		CartTTL:         parseDuration(k.String("CART_TTL"), "168h"),
		CartLockTTL:     parseDuration(k.String("CART_LOCK_TTL"), "10s"),
		LockRetry:       parseDuration(k.String("CART_LOCK_RETRY"), "50ms"),
		IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		ProductCacheTTL: parseDuration(k.String("PRODUCT_CACHE_TTL"), "5m"),

		RateLimitPeriod:   parseDuration(k.String("RATE_LIMIT_PERIOD"), "1m"),
		RateLimitRequests: int64(intOrDefault(k, "RATE_LIMIT_REQUESTS", 120)),

		ExpirySweepInterval:    parseDuration(k.String("CART_EXPIRY_SWEEP_INTERVAL"), "10m"),
		UsageReconcileInterval: parseDuration(k.String("PROMO_USAGE_RECONCILE_INTERVAL"), "1h"),
		WorkerShutdownTimeout:  parseDuration(k.String("WORKER_SHUTDOWN_TIMEOUT"), "10s"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(k *koanf.Koanf, key string, fallback int) int {
	if !k.Exists(key) {
		return fallback
	}
	if v := k.Int(key); v != 0 || strings.TrimSpace(k.String(key)) == "0" {
		return v
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}
