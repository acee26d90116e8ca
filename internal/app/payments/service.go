package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"hostelpay/internal/domain"
	"hostelpay/internal/domain/event"
	"hostelpay/internal/guard"
	"hostelpay/internal/intake"
	"hostelpay/internal/notify"
	"hostelpay/internal/ocr"
	"hostelpay/internal/repository/drafts_repo"
	"hostelpay/internal/repository/ledger_repo"
	"hostelpay/internal/repository/outbox_repo"
	"hostelpay/internal/util"
)

const (
	aggregateTypeDraft = "payment_draft"
	defaultListLimit   = 100
	maxListLimit       = 500
)

type PaymentService interface {
	UploadScreenshot(ctx context.Context, sessionKey string, method domain.PaymentMethod, img *intake.Image) (*UploadResult, error)
	ScreenshotStatus(sessionKey string) ocr.State
	Submit(ctx context.Context, in domain.DraftInput, idempotencyKey string) (*Ack, error)
	ListDrafts(ctx context.Context, status domain.DraftStatus, limit int) ([]domain.PaymentDraft, error)
	GetDraft(ctx context.Context, id string) (*domain.PaymentDraft, error)
	Confirm(ctx context.Context, id string) (*domain.PaymentDraft, error)
	Reject(ctx context.Context, id string, reason string) (*domain.PaymentDraft, error)
	Annotate(ctx context.Context, id string, note string) (*domain.PaymentDraft, error)
	StudentHistory(ctx context.Context, studentID string) (*History, error)
}

type Options struct {
	DraftEventsTopic string
	ImageRetention   time.Duration
	Now              func() time.Time
}

type paymentService struct {
	db         *sql.DB
	draftRepo  drafts_repo.DraftRepository
	ledgerRepo ledger_repo.LedgerRepository
	outboxRepo outbox_repo.OutboxRepository
	extractor  *ocr.Extractor
	images     *intake.Holder
	uploadMu   sync.Mutex
	guard      guard.Guard
	notifier   notify.Notifier
	logger     *zap.Logger

	topic     string
	retention time.Duration
	now       func() time.Time
}

func NewPaymentService(
	db *sql.DB,
	draftRepo drafts_repo.DraftRepository,
	ledgerRepo ledger_repo.LedgerRepository,
	outboxRepo outbox_repo.OutboxRepository,
	extractor *ocr.Extractor,
	images *intake.Holder,
	submitGuard guard.Guard,
	notifier notify.Notifier,
	logger *zap.Logger,
	opts Options,
) PaymentService {
	now := opts.Now
	if now == nil {
		now = util.NowUTC
	}
	return &paymentService{
		db:         db,
		draftRepo:  draftRepo,
		ledgerRepo: ledgerRepo,
		outboxRepo: outboxRepo,
		extractor:  extractor,
		images:     images,
		guard:      submitGuard,
		notifier:   notifier,
		logger:     logger,
		topic:      opts.DraftEventsTopic,
		retention:  opts.ImageRetention,
		now:        now,
	}
}

// inTx runs fn in a transaction, rolling back on error or panic.
func (s *paymentService) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("Failed to begin transaction", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered panic in transaction, rolling back", zap.String("op", op), zap.Any("panic", r))
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", zap.String("op", op), zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("Failed to commit transaction", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *paymentService) enqueueDraftEvent(ctx context.Context, q domain.Querier, typ event.DraftEventType, d *domain.PaymentDraft, at time.Time) error {
	ev := event.DraftEvent{
		EventID:    util.GenerateUUID(),
		Type:       typ,
		DraftID:    d.ID,
		StudentID:  d.StudentID,
		RoomNumber: d.RoomNumber,
		Month:      d.Month,
		Method:     string(d.Method),
		Amount:     d.Amount.StringFixed(2),
		Status:     string(d.Status),
		Timestamp:  at,
	}
	if d.TransactionID != nil {
		ev.TransactionID = *d.TransactionID
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", typ, err)
	}

	msg := &domain.OutboxMessage{
		ID:            ev.EventID,
		AggregateID:   d.ID,
		AggregateType: aggregateTypeDraft,
		MessageType:   string(typ),
		Topic:         s.topic,
		Key:           d.ID,
		Payload:       payload,
		Status:        domain.OutboxStatusPending,
		CreatedAt:     at,
	}
	if err := s.outboxRepo.CreateMessageTx(ctx, q, msg); err != nil {
		return fmt.Errorf("failed to enqueue %s event: %w", typ, err)
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
