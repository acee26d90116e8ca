package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const LedgerStatusPaid = "paid"

// LedgerEntry is the authoritative record of a finalized payment. It is written
// once per confirmed draft.
type LedgerEntry struct {
	ID            string
	DraftID       string
	StudentID     string
	RoomNumber    string
	Month         string
	Amount        decimal.Decimal
	Method        PaymentMethod
	TransactionID *string
	Status        string
	PaymentDate   time.Time
	CreatedAt     time.Time
}

func NewLedgerEntry(id string, d *PaymentDraft) *LedgerEntry {
	paidAt := d.UpdatedAt
	if d.ConfirmedAt != nil {
		paidAt = *d.ConfirmedAt
	}
	return &LedgerEntry{
		ID:            id,
		DraftID:       d.ID,
		StudentID:     d.StudentID,
		RoomNumber:    d.RoomNumber,
		Month:         d.Month,
		Amount:        d.Amount,
		Method:        d.Method,
		TransactionID: d.TransactionID,
		Status:        LedgerStatusPaid,
		PaymentDate:   paidAt,
		CreatedAt:     paidAt,
	}
}
