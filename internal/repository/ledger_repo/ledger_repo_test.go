package ledger_repo

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostelpay/internal/domain"
)

func TestLedgerRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLedgerRepository()
	paidAt := time.Date(2025, 1, 12, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO ledger_payments").
		WithArgs("l-1", "d-1", "STU-1", "A-101", "2025-01", "5000", "cash", nil, "paid", paidAt, paidAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.CreateTx(context.Background(), db, &domain.LedgerEntry{
		ID:          "l-1",
		DraftID:     "d-1",
		StudentID:   "STU-1",
		RoomNumber:  "A-101",
		Month:       "2025-01",
		Amount:      decimal.NewFromInt(5000),
		Method:      domain.PaymentMethodCash,
		Status:      domain.LedgerStatusPaid,
		PaymentDate: paidAt,
		CreatedAt:   paidAt,
	})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM ledger_payments WHERE student_id = \\$1").
		WithArgs("STU-1", 20).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "draft_id", "student_id", "room_number", "month", "amount", "method", "transaction_id",
			"status", "payment_date", "created_at",
		}).AddRow("l-1", "d-1", "STU-1", "A-101", "2025-01", "5000.00", "upi", "ABCDEF123456", "paid", paidAt, paidAt))

	entries, err := repo.ListByStudent(context.Background(), db, "STU-1", 20)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.PaymentMethodUPI, entries[0].Method)
	require.NotNil(t, entries[0].TransactionID)
	assert.Equal(t, "ABCDEF123456", *entries[0].TransactionID)

	assert.NoError(t, mock.ExpectationsWereMet())
}
