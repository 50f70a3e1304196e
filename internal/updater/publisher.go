package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// RefreshEvent is emitted once per successfully refreshed category so
// downstream consumers (cache invalidation, notifications) can react.
type RefreshEvent struct {
	Query      string    `json:"query"`
	Count      int       `json:"count"`
	InstanceID string    `json:"instance_id"`
	At         time.Time `json:"at"`
}

// KafkaPublisher writes refresh events to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:     brokers,
			Topic:       topic,
			MaxAttempts: 3,
		}),
	}
}

// Publish sends one event, keyed by query so per-category ordering is
// preserved.
func (p *KafkaPublisher) Publish(ctx context.Context, event RefreshEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal refresh event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Query),
		Value: payload,
	})
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
