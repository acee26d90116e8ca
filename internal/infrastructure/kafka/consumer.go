package kafka_infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageHandler processes one message. A non-nil error leaves the offset
// uncommitted so the message is redelivered.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

type Consumer interface {
	Start(ctx context.Context, handler MessageHandler) error
	Stop()
}

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	// StartAtLatest skips history for a group that has no committed offset.
	StartAtLatest bool
	RetryBackoff  time.Duration
}

type kafkaConsumer struct {
	reader *kafka.Reader
	cfg    ConsumerConfig
	logger *zap.Logger
	cancel context.CancelFunc
}

func NewConsumer(cfg ConsumerConfig, logger *zap.Logger) Consumer {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	startOffset := kafka.FirstOffset
	if cfg.StartAtLatest {
		startOffset = kafka.LastOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		Topic:             cfg.Topic,
		MinBytes:          1,
		MaxBytes:          10e6,
		MaxWait:           500 * time.Millisecond,
		StartOffset:       startOffset,
		HeartbeatInterval: 3 * time.Second,
		CommitInterval:    time.Second,
		Logger:            kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Debug(fmt.Sprintf(msg, args...)) }),
		ErrorLogger:       kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Error(fmt.Sprintf(msg, args...)) }),
	})

	return &kafkaConsumer{reader: reader, cfg: cfg, logger: logger}
}

// Start blocks until ctx is cancelled or Stop is called.
func (c *kafkaConsumer) Start(ctx context.Context, handler MessageHandler) error {
	consumerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	c.logger.Info("Kafka consumer starting", zap.String("topic", c.cfg.Topic), zap.String("group_id", c.cfg.GroupID))

	for {
		msg, err := c.reader.FetchMessage(consumerCtx)
		if err != nil {
			if consumerCtx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("Kafka consumer stopping", zap.String("topic", c.cfg.Topic))
				return c.reader.Close()
			}
			c.logger.Error("Failed to fetch message from Kafka", zap.Error(err))
			if !sleep(consumerCtx, c.cfg.RetryBackoff) {
				return c.reader.Close()
			}
			continue
		}

		if err := handler(consumerCtx, msg); err != nil {
			c.logger.Error("Error handling Kafka message, offset not committed",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			if !sleep(consumerCtx, c.cfg.RetryBackoff) {
				return c.reader.Close()
			}
			continue
		}

		if err := c.reader.CommitMessages(consumerCtx, msg); err != nil {
			c.logger.Error("Failed to commit Kafka offset",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

func (c *kafkaConsumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
