package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"hostelpay/internal/domain/event"
	"hostelpay/internal/feed"
	kafka_infra "hostelpay/internal/infrastructure/kafka"
)

// DraftEventsMessageHandler fans draft events from Kafka out to the admin
// live view. Undecodable messages are logged and committed.
func DraftEventsMessageHandler(hub *feed.Hub, logger *zap.Logger) kafka_infra.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		var ev event.DraftEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			logger.Error("Failed to unmarshal draft event",
				zap.Error(err),
				zap.ByteString("value", msg.Value),
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
			return nil
		}
		if ev.DraftID == "" || ev.Type == "" {
			logger.Warn("Skipping draft event without draft id or type", zap.Int64("offset", msg.Offset))
			return nil
		}

		logger.Debug("Forwarding draft event",
			zap.String("event_id", ev.EventID),
			zap.String("type", string(ev.Type)),
			zap.String("draft_id", ev.DraftID),
		)
		hub.Publish(ev)
		return nil
	}
}
