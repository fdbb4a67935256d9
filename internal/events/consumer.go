package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/remiges-tech/prefixsearch/internal/config"
)

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 10 * time.Second
)

// MessageHandler processes one message value.
type MessageHandler func(ctx context.Context, key, value []byte) error

// Consumer reads a Kafka topic in a consumer group. A message is committed
// once it was applied or found malformed; store errors are retried with
// backoff on the same message, so per-partition order is preserved.
type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	logger  *slog.Logger
}

// NewConsumer creates a Consumer for cfg.Topic.
func NewConsumer(cfg config.KafkaConfig, handler MessageHandler, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return &Consumer{
		reader:  r,
		handler: handler,
		logger:  logger.With("component", "kafka-consumer", "topic", cfg.Topic),
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.logger.Info("consumer stopped")

	for {
		msg, err := backoff.RetryNotifyWithData(func() (kafka.Message, error) {
			return c.reader.FetchMessage(ctx)
		}, backoff.WithContext(retryPolicy(), ctx), func(err error, wait time.Duration) {
			c.logger.Error("failed to fetch message", "backoff", wait, "error", err)
		})
		if err != nil {
			// Fetches are retried until ctx ends.
			return nil
		}

		if !c.process(ctx, msg) {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

// process retries the handler until it succeeds, reports a malformed message,
// or ctx ends. It returns false only when ctx ended first.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	err := backoff.RetryNotify(func() error {
		err := c.handler(ctx, msg.Key, msg.Value)
		if errors.Is(err, ErrMalformed) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(retryPolicy(), ctx), func(err error, wait time.Duration) {
		c.logger.Error("failed to process message, retrying",
			"partition", msg.Partition, "offset", msg.Offset, "backoff", wait, "error", err)
	})

	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrMalformed):
		c.logger.Warn("skipping malformed message",
			"partition", msg.Partition, "offset", msg.Offset, "error", err)
		return true
	default:
		return false
	}
}

// retryPolicy backs off exponentially from minBackoff to maxBackoff and never
// gives up on its own.
func retryPolicy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minBackoff
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
