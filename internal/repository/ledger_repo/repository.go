package ledger_repo

import (
	"context"

	"hostelpay/internal/domain"
)

type LedgerRepository interface {
	CreateTx(ctx context.Context, querier domain.Querier, entry *domain.LedgerEntry) error
	ListByStudent(ctx context.Context, querier domain.Querier, studentID string, limit int) ([]domain.LedgerEntry, error)
}
