package bus

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/AleksK1NG/account-projections/services/account-service/internal/events"
)

// Publisher writes events to the message bus. The key determines partition
// affinity; callers pass the aggregate id so all events for one aggregate are
// strictly ordered on one partition.
type Publisher interface {
	// Publish serializes the envelope and writes it to topic.
	Publish(ctx context.Context, topic, key string, env events.Envelope, headers []kafka.Header) error
	// PublishRaw writes an already-serialized payload unchanged. Used by the
	// outbox dispatcher and by retry/DLQ republishing, where re-encoding could
	// drop unknown fields.
	PublishRaw(ctx context.Context, topic, key string, payload []byte, headers []kafka.Header) error
}

type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, logger *slog.Logger) *KafkaPublisher {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Balancer: &kafka.Hash{},
	})
	return &KafkaPublisher{writer: writer, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, env events.Envelope, headers []kafka.Header) error {
	payload, err := events.MarshalEnvelope(env)
	if err != nil {
		return err
	}
	return p.PublishRaw(ctx, topic, key, payload, headers)
}

func (p *KafkaPublisher) PublishRaw(ctx context.Context, topic, key string, payload []byte, headers []kafka.Header) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   payload,
		Headers: headers,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
