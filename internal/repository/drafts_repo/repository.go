package drafts_repo

import (
	"context"
	"time"

	"hostelpay/internal/domain"
)

type DraftRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, draft *domain.PaymentDraft) error
	GetByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.PaymentDraft, error)
	ListByStatus(ctx context.Context, querier domain.Querier, status domain.DraftStatus, limit int) ([]domain.PaymentDraft, error)
	ListByStudent(ctx context.Context, querier domain.Querier, studentID string, limit int) ([]domain.PaymentDraft, error)
	// ConfirmIfPendingTx and RejectIfPendingTx return domain.ErrDraftNotPending
	// when no pending draft with id exists.
	ConfirmIfPendingTx(ctx context.Context, querier domain.Querier, id string, at time.Time) (*domain.PaymentDraft, error)
	RejectIfPendingTx(ctx context.Context, querier domain.Querier, id string, at time.Time, reason string) (*domain.PaymentDraft, error)
	AppendAdminNoteTx(ctx context.Context, querier domain.Querier, id string, note string, at time.Time) (*domain.PaymentDraft, error)
}
