package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Locker serializes work on one key across worker replicas.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Worker consumes settlement tasks. It keeps a bounded payment feed per bill
// for displays that attach late, and announces settled tables once.
type Worker struct {
	Redis     *redis.Client
	Locker    Locker
	Prefix    string
	FeedLimit int64
	FeedTTL   time.Duration
	Logger    zerolog.Logger
}

// Register installs the worker's handlers on mux.
func (w Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskType(TopicBillOpened), w.HandleBillOpened)
	mux.HandleFunc(TaskType(TopicPaymentCommitted), w.HandlePaymentCommitted)
	mux.HandleFunc(TaskType(TopicCommitConflict), w.HandleCommitConflict)
	mux.HandleFunc(TaskType(TopicBillSettled), w.HandleBillSettled)
}

func (w Worker) prefix() string {
	if w.Prefix == "" {
		return "settle:bill"
	}
	return w.Prefix
}

// FeedKey is the Redis list holding recent payments for billID.
func (w Worker) FeedKey(billID string) string {
	return w.prefix() + ":" + billID + ":feed"
}

func (w Worker) announcedKey(billID string) string {
	return w.prefix() + ":" + billID + ":announced"
}

func (w Worker) feedTTL() time.Duration {
	if w.FeedTTL <= 0 {
		return 24 * time.Hour
	}
	return w.FeedTTL
}

// TablesChannel is where settled tables are announced.
func (w Worker) TablesChannel() string {
	return w.prefix() + ":tables"
}

// HandleBillOpened logs the new bill.
func (w Worker) HandleBillOpened(_ context.Context, task *asynq.Task) error {
	ev, payload, err := decode[BillOpened](task)
	if err != nil {
		return err
	}
	w.Logger.Info().Str("bill_id", ev.BillID).Str("table_id", payload.TableID).Int64("total", payload.Total).Msg("bill_opened")
	return nil
}

// HandlePaymentCommitted appends the payment to the bill's feed.
func (w Worker) HandlePaymentCommitted(ctx context.Context, task *asynq.Task) error {
	ev, payload, err := decode[PaymentCommitted](task)
	if err != nil {
		return err
	}
	entry, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	limit := w.FeedLimit
	if limit <= 0 {
		limit = 50
	}
	ttl := w.feedTTL()
	key := w.FeedKey(ev.BillID)
	pipe := w.Redis.TxPipeline()
	pipe.RPush(ctx, key, entry)
	pipe.LTrim(ctx, key, -limit, -1)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append feed: %w", err)
	}
	w.Logger.Info().
		Str("bill_id", ev.BillID).
		Str("payment_id", payload.Payment.ID).
		Str("payer_id", payload.Payment.PayerID).
		Int64("amount", payload.Payment.Amount).
		Int64("remaining", payload.Remaining).
		Msg("payment_committed")
	return nil
}

// HandleCommitConflict records rejected commits.
func (w Worker) HandleCommitConflict(_ context.Context, task *asynq.Task) error {
	ev, payload, err := decode[CommitConflict](task)
	if err != nil {
		return err
	}
	w.Logger.Warn().
		Str("bill_id", ev.BillID).
		Str("payer_id", payload.PayerID).
		Int("instances", len(payload.Instances)).
		Bool("stale", payload.Stale).
		Msg("commit_conflict")
	return nil
}

// HandleBillSettled announces that the table's bill is closed. Redelivered
// tasks do not announce twice.
func (w Worker) HandleBillSettled(ctx context.Context, task *asynq.Task) error {
	ev, payload, err := decode[BillSettled](task)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(map[string]any{
		"billId":    ev.BillID,
		"tableId":   payload.TableID,
		"settledAt": payload.SettledAt,
	})
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	announce := func(ctx context.Context) error {
		marker := w.announcedKey(ev.BillID)
		n, err := w.Redis.Exists(ctx, marker).Result()
		if err != nil {
			return fmt.Errorf("check announcement: %w", err)
		}
		if n > 0 {
			w.Logger.Debug().Str("bill_id", ev.BillID).Msg("bill_settled_duplicate")
			return nil
		}
		if err := w.Redis.Publish(ctx, w.TablesChannel(), msg).Err(); err != nil {
			return fmt.Errorf("announce settled table: %w", err)
		}
		if err := w.Redis.Set(ctx, marker, ev.ID, w.feedTTL()).Err(); err != nil {
			return fmt.Errorf("mark announcement: %w", err)
		}
		w.Logger.Info().Str("bill_id", ev.BillID).Str("table_id", payload.TableID).Int64("paid", payload.Paid).Msg("bill_settled")
		return nil
	}
	if w.Locker == nil {
		return announce(ctx)
	}
	return w.Locker.WithLock(ctx, w.prefix()+":"+ev.BillID+":announce", 10*time.Second, announce)
}

func decode[T any](task *asynq.Task) (Event, T, error) {
	var payload T
	ev, err := DecodeTask(task)
	if err != nil {
		return Event{}, payload, fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := ev.Decode(&payload); err != nil {
		return Event{}, payload, fmt.Errorf("decode %s payload: %v: %w", ev.Topic, err, asynq.SkipRetry)
	}
	return ev, payload, nil
}
