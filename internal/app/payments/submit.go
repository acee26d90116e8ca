package payments

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"hostelpay/internal/domain"
	"hostelpay/internal/domain/event"
	"hostelpay/internal/guard"
	"hostelpay/internal/notify"
	"hostelpay/internal/util"
)

type Ack struct {
	DraftID     string
	Status      domain.DraftStatus
	SubmittedAt time.Time
	Draft       *domain.PaymentDraft
}

func (s *paymentService) Submit(ctx context.Context, in domain.DraftInput, idempotencyKey string) (*Ack, error) {
	draft, err := domain.BuildDraft(in, s.now())
	if err != nil {
		s.logger.Warn("Payment draft failed validation", zap.String("student_id", in.StudentID), zap.Error(err))
		return nil, err
	}

	txnID := ""
	if draft.TransactionID != nil {
		txnID = *draft.TransactionID
	}
	key := guard.SubmitKey(draft.StudentID, idempotencyKey, draft.Method, draft.Amount.String(), txnID)
	release, err := s.guard.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrSubmissionInFlight) {
			s.logger.Warn("Duplicate submission rejected while first is in flight", zap.String("student_id", draft.StudentID))
			return nil, err
		}
		s.logger.Error("Submit guard unavailable", zap.Error(err))
		return nil, &domain.SubmissionError{Kind: domain.SubmissionNetwork, Draft: draft, Err: err}
	}
	defer release()

	draft.ID = util.GenerateUUID()
	draft.UpdatedAt = draft.SubmittedAt

	err = s.inTx(ctx, "submit", func(tx *sql.Tx) error {
		if err := s.draftRepo.CreateTx(ctx, tx, draft); err != nil {
			return err
		}
		return s.enqueueDraftEvent(ctx, tx, event.DraftSubmitted, draft, draft.SubmittedAt)
	})
	if err != nil {
		kind := classifySubmissionError(err)
		s.logger.Error("Failed to persist payment draft",
			zap.String("student_id", draft.StudentID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		draft.ID = ""
		s.notifier.Notify(ctx, notify.Error("Submission Failed", "Your payment could not be submitted. Please try again."))
		return nil, &domain.SubmissionError{Kind: kind, Draft: draft, Err: err}
	}

	s.logger.Info("Payment draft submitted",
		zap.String("draft_id", draft.ID),
		zap.String("student_id", draft.StudentID),
		zap.String("method", string(draft.Method)),
		zap.String("amount", draft.Amount.String()))
	s.notifier.Notify(ctx, notify.Success("Payment Submitted", "Your payment has been submitted and is awaiting admin confirmation."))

	return &Ack{
		DraftID:     draft.ID,
		Status:      draft.Status,
		SubmittedAt: draft.SubmittedAt,
		Draft:       draft,
	}, nil
}

// classifySubmissionError maps a store failure to the kind the payer can act on.
func classifySubmissionError(err error) domain.SubmissionKind {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			return domain.SubmissionRejected
		case "08", "53", "57":
			return domain.SubmissionNetwork
		}
		return domain.SubmissionUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return domain.SubmissionNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.SubmissionNetwork
	}
	return domain.SubmissionUnknown
}
