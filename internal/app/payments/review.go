package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"hostelpay/internal/domain"
	"hostelpay/internal/domain/event"
	"hostelpay/internal/notify"
	"hostelpay/internal/util"
)

type History struct {
	Drafts []domain.PaymentDraft
	Ledger []domain.LedgerEntry
}

func (s *paymentService) ListDrafts(ctx context.Context, status domain.DraftStatus, limit int) ([]domain.PaymentDraft, error) {
	if status == "" {
		status = domain.DraftStatusPendingConfirmation
	}
	if !status.Valid() {
		return nil, domain.ErrUnknownStatus
	}
	drafts, err := s.draftRepo.ListByStatus(ctx, s.db, status, normalizeLimit(limit))
	if err != nil {
		s.logger.Error("Failed to list payment drafts", zap.String("status", string(status)), zap.Error(err))
		return nil, err
	}
	return drafts, nil
}

func (s *paymentService) GetDraft(ctx context.Context, id string) (*domain.PaymentDraft, error) {
	if !util.IsUUID(id) {
		return nil, domain.ErrDraftNotFound
	}
	return s.draftRepo.GetByIDTx(ctx, s.db, id)
}

func (s *paymentService) Confirm(ctx context.Context, id string) (*domain.PaymentDraft, error) {
	if !util.IsUUID(id) {
		return nil, domain.ErrDraftNotFound
	}
	now := s.now()

	var confirmed *domain.PaymentDraft
	err := s.inTx(ctx, "confirm", func(tx *sql.Tx) error {
		d, err := s.draftRepo.ConfirmIfPendingTx(ctx, tx, id, now)
		if err != nil {
			return err
		}
		if err := s.ledgerRepo.CreateTx(ctx, tx, domain.NewLedgerEntry(util.GenerateUUID(), d)); err != nil {
			return err
		}
		if err := s.enqueueDraftEvent(ctx, tx, event.DraftConfirmed, d, now); err != nil {
			return err
		}
		confirmed = d
		return nil
	})
	if err != nil {
		return nil, s.transitionError(ctx, id, domain.DraftStatusConfirmed, err)
	}

	s.logger.Info("Payment draft confirmed",
		zap.String("draft_id", confirmed.ID),
		zap.String("student_id", confirmed.StudentID),
		zap.String("amount", confirmed.Amount.String()))
	s.notifier.Notify(ctx, notify.Success("Payment Confirmed", "Payment has been confirmed and recorded."))
	return confirmed, nil
}

func (s *paymentService) Reject(ctx context.Context, id string, reason string) (*domain.PaymentDraft, error) {
	if !util.IsUUID(id) {
		return nil, domain.ErrDraftNotFound
	}
	now := s.now()
	reason = strings.TrimSpace(reason)

	var rejected *domain.PaymentDraft
	err := s.inTx(ctx, "reject", func(tx *sql.Tx) error {
		d, err := s.draftRepo.RejectIfPendingTx(ctx, tx, id, now, reason)
		if err != nil {
			return err
		}
		if err := s.enqueueDraftEvent(ctx, tx, event.DraftRejected, d, now); err != nil {
			return err
		}
		rejected = d
		return nil
	})
	if err != nil {
		return nil, s.transitionError(ctx, id, domain.DraftStatusRejected, err)
	}

	s.logger.Info("Payment draft rejected", zap.String("draft_id", rejected.ID), zap.String("student_id", rejected.StudentID))
	s.notifier.Notify(ctx, notify.Info("Payment Rejected", "Payment has been rejected."))
	return rejected, nil
}

// transitionError explains why a compare-and-set on a draft's status failed.
func (s *paymentService) transitionError(ctx context.Context, id string, target domain.DraftStatus, err error) error {
	if !errors.Is(err, domain.ErrDraftNotPending) {
		s.logger.Error("Failed to transition payment draft",
			zap.String("draft_id", id),
			zap.String("target", string(target)),
			zap.Error(err))
		return fmt.Errorf("failed to move payment draft %s to %s: %w", id, target, err)
	}

	current, getErr := s.draftRepo.GetByIDTx(ctx, s.db, id)
	if getErr != nil {
		if errors.Is(getErr, domain.ErrDraftNotFound) {
			return domain.ErrDraftNotFound
		}
		return fmt.Errorf("failed to load payment draft %s: %w", id, getErr)
	}

	conflict := domain.NewStateConflict(id, current.Status, target)
	s.logger.Warn("Payment draft is no longer pending", zap.String("draft_id", id), zap.Error(conflict))
	return conflict
}

func (s *paymentService) Annotate(ctx context.Context, id string, note string) (*domain.PaymentDraft, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, domain.ErrNoteRequired
	}
	if !util.IsUUID(id) {
		return nil, domain.ErrDraftNotFound
	}
	now := s.now()

	var annotated *domain.PaymentDraft
	err := s.inTx(ctx, "annotate", func(tx *sql.Tx) error {
		d, err := s.draftRepo.AppendAdminNoteTx(ctx, tx, id, note, now)
		if err != nil {
			return err
		}
		if err := s.enqueueDraftEvent(ctx, tx, event.DraftAnnotated, d, now); err != nil {
			return err
		}
		annotated = d
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrDraftNotFound) {
			return nil, err
		}
		s.logger.Error("Failed to annotate payment draft", zap.String("draft_id", id), zap.Error(err))
		return nil, err
	}

	s.logger.Info("Payment draft annotated", zap.String("draft_id", id))
	return annotated, nil
}

func (s *paymentService) StudentHistory(ctx context.Context, studentID string) (*History, error) {
	drafts, err := s.draftRepo.ListByStudent(ctx, s.db, studentID, defaultListLimit)
	if err != nil {
		return nil, err
	}
	ledger, err := s.ledgerRepo.ListByStudent(ctx, s.db, studentID, defaultListLimit)
	if err != nil {
		return nil, err
	}
	return &History{Drafts: drafts, Ledger: ledger}, nil
}
