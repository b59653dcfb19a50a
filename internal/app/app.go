package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/noah-isme/backend-settle/internal/config"
	"github.com/noah-isme/backend-settle/internal/events"
	"github.com/noah-isme/backend-settle/internal/ledger"
	"github.com/noah-isme/backend-settle/internal/menu"
	"github.com/noah-isme/backend-settle/internal/obs"
	"github.com/noah-isme/backend-settle/internal/ratelimit"
	"github.com/noah-isme/backend-settle/internal/resilience"
	"github.com/noah-isme/backend-settle/internal/settle"
	"github.com/noah-isme/backend-settle/internal/split"
)

// Dependencies are the process-level resources the API is assembled from.
// Redis and Tasks are optional; without them the API runs single-instance.
type Dependencies struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Redis      *redis.Client
	Tasks      events.Enqueuer
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// NewRedis connects to cfg.RedisURL with tracing and metrics instrumentation.
// An empty URL yields a nil client.
func NewRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewTaskClient returns an asynq client sharing rdb, or nil when queueing is
// disabled.
func NewTaskClient(cfg *config.Config, rdb *redis.Client) *asynq.Client {
	if !cfg.QueueEnabled || rdb == nil {
		return nil
	}
	return asynq.NewClientFromRedisClient(rdb)
}

// NewCatalog loads cfg.MenuFile, or the demo menu when none is configured.
func NewCatalog(cfg *config.Config) (*menu.StaticCatalog, error) {
	if cfg.MenuFile == "" {
		return menu.Demo(), nil
	}
	return menu.LoadFile(cfg.MenuFile)
}

// NewLimiter picks the terminal rate limiter backend. Without Redis the
// store-backed limiter runs on an in-process memory store.
func NewLimiter(cfg *config.Config, rdb *redis.Client) (ratelimit.Allower, error) {
	if rdb == nil {
		return ratelimit.FixedLimiter{Store: memory.NewStore()}, nil
	}
	switch cfg.RateLimitBackend {
	case "ulule":
		store, err := ratelimit.NewRedisStore(rdb, "settle:rl:")
		if err != nil {
			return nil, fmt.Errorf("limiter store: %w", err)
		}
		return ratelimit.FixedLimiter{Store: store}, nil
	default:
		return ratelimit.SlidingLimiter{Client: rdb, Prefix: "settle:rl:"}, nil
	}
}

// NewBus wires live pub/sub and the task queue behind a circuit breaker.
func NewBus(deps Dependencies, metrics *obs.SettlementMetrics) *events.Bus {
	cfg := deps.Config
	bus := &events.Bus{Observer: metrics}
	if deps.Redis != nil {
		bus.Publisher = events.RedisPublisher{Client: deps.Redis, Prefix: cfg.EventChannelPrefix}
	}
	if deps.Tasks != nil {
		breaker := resilience.NewBreaker(5, 0.5, cfg.QueueBreakerOpenFor).
			WithTarget("task-queue").
			WithLogger(deps.Logger).
			WithMetrics(resilience.NewBreakerMetrics(cfg.MetricsNamespace, deps.Registerer))
		bus.Notifiers = append(bus.Notifiers, events.TaskNotifier{
			Client:   deps.Tasks,
			Queue:    cfg.QueueName,
			MaxRetry: cfg.QueueMaxRetry,
			Retain:   cfg.FeedTTL,
			Topics:   events.DefaultTopics(),
			Guard:    breaker,
		})
	}
	return bus
}

// NewService builds the settlement service from configuration.
func NewService(deps Dependencies, catalog menu.Catalog, metrics *obs.SettlementMetrics) *settle.Service {
	cfg := deps.Config
	return settle.NewService(settle.Config{
		Ledger: ledger.Config{
			Rates:    cfg.Rates(),
			Resolver: split.Resolver{PartyMin: cfg.PartySizeMin, PartyMax: cfg.PartySizeMax},
			Epsilon:  cfg.Epsilon,
		},
		Tip:      cfg.Tip,
		Currency: cfg.Currency,
		Catalog:  catalog,
		Events:   NewBus(deps, metrics),
		Metrics:  metrics,
	})
}
