// Package outbox relays draft events written alongside draft changes to Kafka.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"hostelpay/internal/domain"
	kafka_infra "hostelpay/internal/infrastructure/kafka"
)

type OutboxRepository interface {
	GetPendingMessages(ctx context.Context, querier domain.Querier, limit int) ([]domain.OutboxMessage, error)
	UpdateMessageStatusTx(ctx context.Context, querier domain.Querier, id string, status domain.OutboxMessageStatus) error
	RecordAttemptTx(ctx context.Context, querier domain.Querier, id string, maxAttempts int) (domain.OutboxMessageStatus, error)
}

type Config struct {
	DefaultTopic string
	PollInterval time.Duration
	PollTimeout  time.Duration
	BatchSize    int
	MaxAttempts  int
}

type Processor struct {
	db         *sql.DB
	outboxRepo OutboxRepository
	producer   kafka_infra.Producer
	cfg        Config
	logger     *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewProcessor(db *sql.DB, outboxRepo OutboxRepository, producer kafka_infra.Producer, cfg Config, logger *zap.Logger) *Processor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Processor{
		db:         db,
		outboxRepo: outboxRepo,
		producer:   producer,
		cfg:        cfg,
		logger:     logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start polls in the background until ctx is cancelled or Stop is called.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("Starting outbox processor",
		zap.Duration("poll_interval", p.cfg.PollInterval),
		zap.Int("batch_size", p.cfg.BatchSize),
	)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-ticker.C:
				if _, err := p.ProcessBatch(ctx); err != nil {
					p.logger.Error("Outbox batch failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop signals the polling loop and waits for the batch in progress.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	<-p.done
	p.logger.Info("Outbox processor stopped")
}

// ProcessBatch claims up to BatchSize pending messages and relays them. It
// returns how many were sent. Messages that fail to produce stay pending
// until they hit MaxAttempts.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	batchCtx, cancel := context.WithTimeout(ctx, p.cfg.PollTimeout)
	defer cancel()

	tx, err := p.db.BeginTx(batchCtx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin outbox transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	messages, err := p.outboxRepo.GetPendingMessages(batchCtx, tx, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending outbox messages: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	sent := 0
	for _, msg := range messages {
		topic := msg.Topic
		if topic == "" {
			topic = p.cfg.DefaultTopic
		}

		if err := p.producer.Produce(batchCtx, msg.Key, topic, msg.Payload); err != nil {
			status, recErr := p.outboxRepo.RecordAttemptTx(batchCtx, tx, msg.ID, p.cfg.MaxAttempts)
			if recErr != nil {
				return sent, fmt.Errorf("failed to record attempt for outbox message %s: %w", msg.ID, recErr)
			}
			p.logger.Warn("Failed to relay outbox message",
				zap.String("message_id", msg.ID),
				zap.String("topic", topic),
				zap.String("status", string(status)),
				zap.Error(err),
			)
			continue
		}

		if err := p.outboxRepo.UpdateMessageStatusTx(batchCtx, tx, msg.ID, domain.OutboxStatusSent); err != nil {
			return sent, fmt.Errorf("failed to mark outbox message %s sent: %w", msg.ID, err)
		}
		sent++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit outbox transaction: %w", err)
	}
	tx = nil

	p.logger.Info("Relayed outbox messages", zap.Int("sent", sent), zap.Int("claimed", len(messages)))
	return sent, nil
}
