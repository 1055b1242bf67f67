// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// BackendsFile points at the YAML registry of backend descriptors.
	BackendsFile string `env:"BACKENDS_FILE" envDefault:"backends.yaml"`

	// Input bounds applied before any backend call.
	MaxTextRunes int `env:"MAX_TEXT_RUNES" envDefault:"4096"`

	// Cache layer.
	RedisAddr           string        `env:"REDIS_ADDR" envDefault:""`
	RedisPassword       string        `env:"REDIS_PASSWORD"`
	CacheTTL            time.Duration `env:"CACHE_TTL" envDefault:"1h"`
	MemoryCacheSize     int           `env:"MEMORY_CACHE_SIZE" envDefault:"4096"`
	SimilarityIndexSize int           `env:"SIMILARITY_INDEX_SIZE" envDefault:"512"`

	// Feedback append-only store (Redpanda/Kafka). Empty disables the producer
	// and feedback records are logged only.
	KafkaBrokers      []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:""`
	FeedbackTopic     string   `env:"FEEDBACK_TOPIC" envDefault:"classification-feedback"`
	FeedbackQueueSize int      `env:"FEEDBACK_QUEUE_SIZE" envDefault:"1024"`

	// Circuit breaker defaults; per-request values come from the live snapshot.
	BreakerFailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"3"`
	BreakerCooldown         time.Duration `env:"BREAKER_COOLDOWN" envDefault:"30s"`

	// Latency tier budgets.
	TierCriticalBudget time.Duration `env:"TIER_CRITICAL_BUDGET" envDefault:"150ms"`
	TierStandardBudget time.Duration `env:"TIER_STANDARD_BUDGET" envDefault:"800ms"`
	TierRelaxedBudget  time.Duration `env:"TIER_RELAXED_BUDGET" envDefault:"3s"`

	// Backend HTTP client.
	BackendRetryMax      int           `env:"BACKEND_RETRY_MAX" envDefault:"2"`
	BackendRetryInterval time.Duration `env:"BACKEND_RETRY_INTERVAL" envDefault:"50ms"`

	// Observability.
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"intent-router"`

	// HTTP server.
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"600"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// TierBudget returns the wall-clock budget for a latency tier. Unknown tiers
// get the standard budget.
func (c Config) TierBudget(tier string) time.Duration {
	switch strings.ToLower(tier) {
	case "critical":
		return c.TierCriticalBudget
	case "relaxed":
		return c.TierRelaxedBudget
	default:
		return c.TierStandardBudget
	}
}
