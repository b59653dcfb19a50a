package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-settle/internal/pricing"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string
	BodyLimitBytes     int64

	Currency       string
	ServiceRate    decimal.Decimal
	Tip            pricing.TipPolicy
	PartySizeMin   int
	PartySizeMax   int
	Epsilon        pricing.Money
	MenuFile       string
	IdempotencyTTL time.Duration

	TerminalJWTSecret    string
	TerminalJWTIssuer    string
	TerminalJWTAudience  string
	TerminalRateLimit    int
	TerminalRateWindow   time.Duration
	RateLimitBackend     string
	QueueEnabled         bool
	EventChannelPrefix   string
	QueueName            string
	QueueMaxRetry        int
	QueueRetryBase       time.Duration
	QueueRetryMax        time.Duration
	QueueBreakerOpenFor  time.Duration
	WorkerConcurrency    int
	FeedLimit            int64
	FeedTTL              time.Duration
	ShutdownTimeout      time.Duration

	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	TracingEnabled   bool
	OTLPEndpoint     string
	TraceSampleRatio float64
	PprofEnabled     bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	serviceRate, err := pricing.ParseRatePercent(valueOrDefault(k.String("SERVICE_RATE_PERCENT"), "8.999"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:     int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),

		Currency:    strings.ToUpper(valueOrDefault(k.String("CURRENCY"), "USD")),
		ServiceRate: serviceRate,
		Tip: pricing.TipPolicy{
			Min:     parseInt(k.String("TIP_PERCENT_MIN"), 10),
			Max:     parseInt(k.String("TIP_PERCENT_MAX"), 30),
			Step:    parseInt(k.String("TIP_PERCENT_STEP"), 5),
			Default: parseInt(k.String("TIP_PERCENT_DEFAULT"), 15),
		},
		PartySizeMin:   parseInt(k.String("PARTY_SIZE_MIN"), 2),
		PartySizeMax:   parseInt(k.String("PARTY_SIZE_MAX"), 20),
		Epsilon:        pricing.Money(parseInt(k.String("SETTLEMENT_EPSILON"), 1)),
		MenuFile:       strings.TrimSpace(k.String("MENU_FILE")),
		IdempotencyTTL: parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		TerminalJWTSecret:   k.String("TERMINAL_JWT_SECRET"),
		TerminalJWTIssuer:   strings.TrimSpace(k.String("TERMINAL_JWT_ISSUER")),
		TerminalJWTAudience: strings.TrimSpace(k.String("TERMINAL_JWT_AUDIENCE")),
		TerminalRateLimit:   parseInt(k.String("TERMINAL_RATE_LIMIT_PER_MIN"), 30),
		TerminalRateWindow:  parseDuration(k.String("TERMINAL_RATE_WINDOW"), "1m"),
		RateLimitBackend:    strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_BACKEND"), "sliding")),
		QueueEnabled:        parseBool(k.String("QUEUE_ENABLED")),
		EventChannelPrefix:  valueOrDefault(k.String("EVENT_CHANNEL_PREFIX"), "settle:bill"),
		QueueName:           valueOrDefault(k.String("QUEUE_NAME"), "settle"),
		QueueMaxRetry:       parseInt(k.String("QUEUE_MAX_RETRY"), 5),
		QueueRetryBase:      parseDuration(k.String("QUEUE_RETRY_BASE"), "1s"),
		QueueRetryMax:       parseDuration(k.String("QUEUE_RETRY_MAX"), "1m"),
		QueueBreakerOpenFor: parseDuration(k.String("QUEUE_BREAKER_OPEN_FOR"), "30s"),
		WorkerConcurrency:   parseInt(k.String("WORKER_CONCURRENCY"), 5),
		FeedLimit:           int64(parseInt(k.String("FEED_LIMIT"), 50)),
		FeedTTL:             parseDuration(k.String("FEED_TTL"), "24h"),
		ShutdownTimeout:     parseDuration(k.String("SHUTDOWN_TIMEOUT"), "10s"),

		LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "settle"),
		TracingEnabled:   parseBool(k.String("OBS_TRACING_ENABLED")),
		OTLPEndpoint:     valueOrDefault(k.String("OTEL_EXPORTER_OTLP_ENDPOINT"), "localhost:4318"),
		TraceSampleRatio: parseFloat(k.String("OTEL_TRACES_SAMPLER_RATIO"), 1.0),
		PprofEnabled:     parseBool(k.String("PPROF_ENABLED")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Tip.Min > c.Tip.Max {
		errs = append(errs, fmt.Errorf("TIP_PERCENT_MIN %d exceeds TIP_PERCENT_MAX %d", c.Tip.Min, c.Tip.Max))
	} else if err := c.Tip.Validate(c.Tip.Default); err != nil {
		errs = append(errs, fmt.Errorf("TIP_PERCENT_DEFAULT: %w", err))
	}
	if c.PartySizeMin < 1 || c.PartySizeMin > c.PartySizeMax {
		errs = append(errs, fmt.Errorf("party size range [%d, %d] is invalid", c.PartySizeMin, c.PartySizeMax))
	}
	if c.Epsilon < 0 {
		errs = append(errs, errors.New("SETTLEMENT_EPSILON must not be negative"))
	}
	switch c.RateLimitBackend {
	case "sliding", "ulule":
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND %q is not supported", c.RateLimitBackend))
	}
	if c.QueueEnabled && c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required when QUEUE_ENABLED is set"))
	}
	return errors.Join(errs...)
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

// Rates returns the pricing rates with the default tip.
func (c *Config) Rates() pricing.Rates {
	return pricing.Rates{Service: c.ServiceRate, TipPercent: c.Tip.Default}
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
		return strings.TrimSpace(value)
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

func parseInt(value string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests overrides environment variables for the duration of Load.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
