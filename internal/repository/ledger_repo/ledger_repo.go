package ledger_repo

import (
	"context"
	"database/sql"
	"fmt"

	"hostelpay/internal/domain"
)

type ledgerRepository struct{}

func NewLedgerRepository() *ledgerRepository {
	return &ledgerRepository{}
}

func (r *ledgerRepository) CreateTx(ctx context.Context, querier domain.Querier, entry *domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_payments (id, draft_id, student_id, room_number, month, amount, method,
			transaction_id, status, payment_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := querier.ExecContext(ctx, query,
		entry.ID,
		entry.DraftID,
		entry.StudentID,
		entry.RoomNumber,
		entry.Month,
		entry.Amount,
		entry.Method,
		entry.TransactionID,
		entry.Status,
		entry.PaymentDate,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger entry for draft %s: %w", entry.DraftID, err)
	}
	return nil
}

func (r *ledgerRepository) ListByStudent(ctx context.Context, querier domain.Querier, studentID string, limit int) ([]domain.LedgerEntry, error) {
	query := `
		SELECT id, draft_id, student_id, room_number, month, amount, method, transaction_id, status,
			payment_date, created_at
		FROM ledger_payments
		WHERE student_id = $1
		ORDER BY payment_date DESC
		LIMIT $2
	`
	rows, err := querier.QueryContext(ctx, query, studentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0)
	for rows.Next() {
		var (
			e     domain.LedgerEntry
			txnID sql.NullString
		)
		if err := rows.Scan(
			&e.ID,
			&e.DraftID,
			&e.StudentID,
			&e.RoomNumber,
			&e.Month,
			&e.Amount,
			&e.Method,
			&txnID,
			&e.Status,
			&e.PaymentDate,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if txnID.Valid {
			e.TransactionID = &txnID.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}
	return entries, nil
}
