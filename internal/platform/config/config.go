package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Server captures process-level configuration. FromEnv keeps main lean; every
// knob has a development default so the service starts with an empty
// environment (in-memory stores, no kafka).
type Server struct {
	Addr          string
	DatabaseURL   string
	JWTSigningKey string
	Redis         RedisConfig
	Kafka         KafkaConfig
	RateLimit     RateLimitConfig

	// WarningTolerance is the fraction of a threshold bound inside which a
	// submitted result is assessed as a warning rather than a pass,
	// e.g. 0.10 for a 10% band.
	WarningTolerance decimal.Decimal

	// OutboxPollInterval is how often the dispatcher drains unpublished
	// audit/notification events.
	OutboxPollInterval time.Duration
}

// RedisConfig carries connection settings for the token revocation store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RateLimitConfig caps requests per client IP over a fixed window. A zero
// Limit disables limiting.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// KafkaConfig carries producer settings for the outbox dispatcher.
type KafkaConfig struct {
	Brokers           []string
	AuditTopic        string
	NotificationTopic string
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:          envOr("LIMS_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("LIMS_DATABASE_URL"),
		JWTSigningKey: envOr("LIMS_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		Redis: RedisConfig{
			URL:          os.Getenv("LIMS_REDIS_URL"),
			PoolSize:     envInt("LIMS_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("LIMS_REDIS_MIN_IDLE", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			AuditTopic:        envOr("LIMS_KAFKA_AUDIT_TOPIC", "lims.audit"),
			NotificationTopic: envOr("LIMS_KAFKA_NOTIFICATION_TOPIC", "lims.notifications"),
		},
		RateLimit: RateLimitConfig{
			Limit:  envInt("LIMS_RATE_LIMIT", 300),
			Window: envDuration("LIMS_RATE_LIMIT_WINDOW", time.Minute),
		},
		WarningTolerance:   envDecimal("LIMS_WARNING_TOLERANCE", "0.10"),
		OutboxPollInterval: envDuration("LIMS_OUTBOX_POLL_INTERVAL", 2*time.Second),
	}
	if brokers := os.Getenv("LIMS_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}
