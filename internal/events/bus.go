package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a domain event about one bill.
type Event struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	BillID     string          `json:"billId"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Publisher broadcasts events to live listeners.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Notifier reacts to emitted events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Observer is told the outcome of every emit.
type Observer interface {
	ObserveEvent(topic, result string)
}

// Bus fans events out to the publisher and notifiers.
type Bus struct {
	Publisher Publisher
	Notifiers []Notifier
	Observer  Observer
	Now       func() time.Time
}

// Emit builds the event and dispatches it to every configured handler.
// Delivery errors are joined; the event is returned regardless.
func (b *Bus) Emit(ctx context.Context, topic, billID string, payload any) (Event, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	if strings.TrimSpace(billID) == "" {
		return Event{}, errors.New("events: bill id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	if b == nil {
		return Event{}, errors.New("events: bus not configured")
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	ev := Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		BillID:     billID,
		Payload:    encoded,
		OccurredAt: now().UTC(),
	}

	var joined error
	if b.Publisher != nil {
		if err := b.Publisher.Publish(ctx, ev); err != nil {
			joined = errors.Join(joined, fmt.Errorf("events: publish: %w", err))
		}
	}
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, ev); err != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", err))
		}
	}
	if b.Observer != nil {
		result := "ok"
		if joined != nil {
			result = "error"
		}
		b.Observer.ObserveEvent(topic, result)
	}
	return ev, joined
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

func encodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		return validJSON(v)
	case []byte:
		return validJSON(v)
	default:
		return json.Marshal(v)
	}
}

func validJSON(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid json")
	}
	return append([]byte(nil), data...), nil
}
