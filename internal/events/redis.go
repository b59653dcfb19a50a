package events

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events on a per-bill pub/sub channel so displays
// can follow who has paid.
type RedisPublisher struct {
	Client *redis.Client
	Prefix string
}

// Channel returns the channel name for billID.
func (p RedisPublisher) Channel(billID string) string {
	prefix := p.Prefix
	if prefix == "" {
		prefix = "settle:bill"
	}
	return prefix + ":" + billID
}

// Publish implements Publisher.
func (p RedisPublisher) Publish(ctx context.Context, event Event) error {
	if p.Client == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.Client.Publish(ctx, p.Channel(event.BillID), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
