package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/config"
	"github.com/segmentio/kafka-go"
)

// Message is the unit of data published to Kafka. Key is used for partition
// hashing; Value is JSON-serialised unless it is already a []byte.
type Message struct {
	Key     string
	Value   any
	Headers map[string]string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes messages to a single Kafka topic.
type Producer struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewProducer creates a Producer for the given topic.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return newProducer(w, topic)
}

func newProducer(w messageWriter, topic string) *Producer {
	return &Producer{
		writer: w,
		topic:  topic,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Topic returns the topic this producer writes to.
func (p *Producer) Topic() string {
	return p.topic
}

// Publish serialises a single message and writes it synchronously.
func (p *Producer) Publish(ctx context.Context, msg Message) error {
	km, err := encode(msg)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, km); err != nil {
		p.logger.Error("failed to publish message",
			"key", msg.Key,
			"error", err,
		)
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	p.logger.Debug("message published",
		"key", msg.Key,
		"value_size", len(km.Value),
	)
	return nil
}

// PublishBatch writes multiple messages in a single write call.
func (p *Producer) PublishBatch(ctx context.Context, msgs []Message) error {
	batch := make([]kafka.Message, 0, len(msgs))
	for _, msg := range msgs {
		km, err := encode(msg)
		if err != nil {
			return err
		}
		batch = append(batch, km)
	}
	if err := p.writer.WriteMessages(ctx, batch...); err != nil {
		p.logger.Error("failed to publish batch",
			"count", len(batch),
			"error", err,
		)
		return fmt.Errorf("publishing batch to kafka: %w", err)
	}
	p.logger.Debug("batch published", "count", len(batch))
	return nil
}

// Close flushes pending writes and closes the underlying Kafka writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func encode(msg Message) (kafka.Message, error) {
	var value []byte
	switch v := msg.Value.(type) {
	case []byte:
		value = v
	case json.RawMessage:
		value = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return kafka.Message{}, fmt.Errorf("marshaling message value: %w", err)
		}
		value = b
	}
	km := kafka.Message{
		Key:   []byte(msg.Key),
		Value: value,
	}
	for k, v := range msg.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return km, nil
}
