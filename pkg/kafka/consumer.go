// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The producer serialises events as JSON, while the
// consumer decodes them via a pluggable MessageHandler callback.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// MessageHandler is a callback invoked for each Kafka message. A returned
// error is retried; the message is committed only once it succeeds.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// reader is the part of *kafka.Reader the consume loop uses.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var defaultHandlerRetry = resilience.RetryConfig{
	MaxAttempts:  5,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	open        func() reader
	topic       string
	handler     MessageHandler
	retry       resilience.RetryConfig
	rejoinDelay time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	reader reader
	closed bool
}

// NewConsumer creates a group Consumer for the given topic and handler. A
// group with no committed offset starts from the oldest message.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	rc := kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    1e6,
		StartOffset: kafka.FirstOffset,
	}
	return newConsumer(func() reader { return kafka.NewReader(rc) }, topic, handler)
}

func newConsumer(open func() reader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		open:        open,
		topic:       topic,
		handler:     handler,
		retry:       defaultHandlerRetry,
		rejoinDelay: 5 * time.Second,
		logger:      slog.Default().With("component", "kafka-consumer", "topic", topic),
		reader:      open(),
	}
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled. A message whose handler keeps failing is never committed:
// the reader is replaced and the group resumes from the last committed
// offset, so the message is delivered again.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		r, ok := c.current()
		if !ok {
			return nil
		}
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			if c.isClosed() {
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}

		err = resilience.Retry(ctx, "handle "+c.topic, c.retry, func() error {
			return c.handler(ctx, msg.Key, msg.Value)
		})
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to process message, rejoining group",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			if !c.rejoin(ctx) {
				return nil
			}
			continue
		}
		if err := r.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// rejoin closes the current reader and opens a new one after rejoinDelay. It
// reports false when the consumer should stop instead.
func (c *Consumer) rejoin(ctx context.Context) bool {
	c.mu.Lock()
	old := c.reader
	c.mu.Unlock()
	if err := old.Close(); err != nil {
		c.logger.Warn("failed to close reader", "error", err)
	}

	timer := time.NewTimer(c.rejoinDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.reader = c.open()
	return true
}

func (c *Consumer) current() (reader, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reader, !c.closed
}

func (c *Consumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.reader.Close()
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
