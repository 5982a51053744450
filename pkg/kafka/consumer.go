// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The producer serialises messages as JSON, while the
// consumer hands each fetched record to a pluggable MessageHandler and commits
// it only after the handler succeeds (at-least-once delivery). A failing
// message is retried in place; the consumer never moves past it.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/search-index-sync/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// Record is a fetched Kafka message as seen by a MessageHandler.
type Record struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
}

// MessageHandler is a callback invoked for each Kafka message. Returning an
// error leaves the message uncommitted and makes the consumer call the
// handler again for the same message.
type MessageHandler func(ctx context.Context, rec Record) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader  messageReader
	logger  *slog.Logger
	handler MessageHandler
	retry   resilience.RetryConfig
}

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(r, topic, handler)
}

func newConsumer(r messageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts:    10,
			InitialDelay:   time.Second,
			MaxDelay:       30 * time.Second,
			JitterFraction: 0.2,
		},
	}
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled. A message whose handler still fails after the retry budget
// stops the loop with an error and stays uncommitted, so the group resumes
// from it after a restart. Committing a later offset of the same partition
// would skip it.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return nil
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		rec := toRecord(msg)
		attempts, err := resilience.Retry(ctx, "handle-message", c.retry, func(int) error {
			return c.handler(ctx, rec)
		})
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping with message uncommitted", "offset", msg.Offset)
				return nil
			}
			c.logger.Error("giving up on message, leaving uncommitted",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"attempts", attempts,
				"error", err,
			)
			return fmt.Errorf("handling message at partition %d offset %d: %w", msg.Partition, msg.Offset, err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func toRecord(msg kafka.Message) Record {
	rec := Record{
		Key:       msg.Key,
		Value:     msg.Value,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}
	if len(msg.Headers) > 0 {
		rec.Headers = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			rec.Headers[h.Key] = string(h.Value)
		}
	}
	return rec
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
