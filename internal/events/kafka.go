package events

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events to a Kafka topic, keyed by correlation id so
// all events for one order land on the same partition.
type KafkaPublisher struct {
	Writer *kafka.Writer
}

// NewKafkaPublisher builds a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		Writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Publish writes the event envelope as a JSON message.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.CorrelationID),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "topic", Value: []byte(ev.Topic)},
			{Key: "producer", Value: []byte(ev.Producer)},
		},
	})
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.Writer == nil {
		return nil
	}
	return p.Writer.Close()
}

// LogPublisher mirrors every event into the structured log. It is always
// configured, so event emission is observable even without a broker.
type LogPublisher struct {
	Logger zerolog.Logger
}

// Publish logs the event at info level.
func (p LogPublisher) Publish(_ context.Context, ev Event) error {
	p.Logger.Info().
		Str("event_id", ev.ID).
		Str("topic", ev.Topic).
		Str("correlation_id", ev.CorrelationID).
		RawJSON("payload", ev.Payload).
		Msg("domain_event")
	return nil
}
