package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Guard runs a call against a dependency that may be tripped open.
type Guard interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// TaskNotifier forwards events to the worker through asynq.
type TaskNotifier struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
	Retain   time.Duration
	// Topics limits forwarding; empty forwards everything.
	Topics []string
	// Guard, when set, wraps every enqueue.
	Guard Guard
}

// Notify implements Notifier.
func (n TaskNotifier) Notify(ctx context.Context, event Event) error {
	if n.Client == nil || !n.accepts(event.Topic) {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(event.ID)}
	if n.Queue != "" {
		opts = append(opts, asynq.Queue(n.Queue))
	}
	if n.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(n.MaxRetry))
	}
	if n.Retain > 0 {
		opts = append(opts, asynq.Retention(n.Retain))
	}
	task := asynq.NewTask(TaskType(event.Topic), data)
	enqueue := func(ctx context.Context) error {
		_, err := n.Client.EnqueueContext(ctx, task, opts...)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return err
	}
	if n.Guard != nil {
		err = n.Guard.Do(ctx, enqueue)
	} else {
		err = enqueue(ctx)
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", event.Topic, err)
	}
	return nil
}

func (n TaskNotifier) accepts(topic string) bool {
	if len(n.Topics) == 0 {
		return true
	}
	for _, t := range n.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// DecodeTask extracts the event carried by an asynq task.
func DecodeTask(task *asynq.Task) (Event, error) {
	var ev Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", task.Type(), err)
	}
	return ev, nil
}
