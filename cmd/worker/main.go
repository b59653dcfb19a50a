package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-settle/internal/app"
	"github.com/noah-isme/backend-settle/internal/config"
	"github.com/noah-isme/backend-settle/internal/events"
	"github.com/noah-isme/backend-settle/internal/lock"
	"github.com/noah-isme/backend-settle/internal/obs"
	"github.com/noah-isme/backend-settle/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()
	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	redisClient, err := app.NewRedis(pingCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	worker := events.Worker{
		Redis:     redisClient,
		Locker:    lock.Locker{R: redisClient, RetryBackoff: 50 * time.Millisecond},
		Prefix:    cfg.EventChannelPrefix,
		FeedLimit: cfg.FeedLimit,
		FeedTTL:   cfg.FeedTTL,
		Logger:    logger,
	}
	mux := asynq.NewServeMux()
	worker.Register(mux)

	retryDelay := resilience.RetryDelay(cfg.QueueRetryBase, cfg.QueueRetryMax, 0.2)
	srv := asynq.NewServerFromRedisClient(redisClient, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          map[string]int{cfg.QueueName: 1},
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          taskLogger{logger},
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return retryDelay(n)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Warn().Err(err).Str("task", task.Type()).Msg("task_failed")
		}),
	})

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Str("queue", cfg.QueueName).Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

// taskLogger routes asynq's logging through zerolog.
type taskLogger struct {
	l zerolog.Logger
}

func (t taskLogger) Debug(args ...interface{}) { t.l.Debug().Msg(fmt.Sprint(args...)) }
func (t taskLogger) Info(args ...interface{})  { t.l.Info().Msg(fmt.Sprint(args...)) }
func (t taskLogger) Warn(args ...interface{})  { t.l.Warn().Msg(fmt.Sprint(args...)) }
func (t taskLogger) Error(args ...interface{}) { t.l.Error().Msg(fmt.Sprint(args...)) }
func (t taskLogger) Fatal(args ...interface{}) { t.l.Fatal().Msg(fmt.Sprint(args...)) }
