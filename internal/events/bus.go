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

// Event is the envelope published for every domain event. CorrelationID is
// the order id the event concerns.
type Event struct {
	ID            string          `json:"event_id"`
	Topic         string          `json:"topic"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
}

// Publisher delivers emitted events to a downstream transport.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus fans emitted events out to all configured publishers. Emission is
// best-effort; a failing publisher never blocks the payment flow, errors are
// joined and reported to the caller for logging.
type Bus struct {
	Producer   string
	Publishers []Publisher
}

// Emit builds the envelope and dispatches it to every publisher.
func (b *Bus) Emit(ctx context.Context, topic, correlationID string, payload any) (Event, error) {
	if b == nil {
		return Event{}, errors.New("events: bus not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	ev := Event{
		ID:            uuid.NewString(),
		Topic:         topic,
		OccurredAt:    time.Now().UTC(),
		Producer:      b.Producer,
		CorrelationID: correlationID,
		Payload:       encoded,
	}
	var joined error
	for _, pub := range b.Publishers {
		if pub == nil {
			continue
		}
		if pubErr := pub.Publish(ctx, ev); pubErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: publish %s: %w", topic, pubErr))
		}
	}
	return ev, joined
}

func encodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append(json.RawMessage(nil), v...), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append(json.RawMessage(nil), v...), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
}
