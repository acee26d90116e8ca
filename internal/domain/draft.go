package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxAmount is the largest amount a draft can carry; amounts are stored as NUMERIC(12,2).
var MaxAmount = decimal.RequireFromString("9999999999.99")

type PaymentMethod string

const (
	PaymentMethodUPI          PaymentMethod = "upi"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodUPI, PaymentMethodCash, PaymentMethodBankTransfer:
		return true
	}
	return false
}

// RequiresTransactionID reports whether a draft paid with m needs a transaction id.
func (m PaymentMethod) RequiresTransactionID() bool {
	return m == PaymentMethodUPI || m == PaymentMethodBankTransfer
}

type DraftStatus string

const (
	DraftStatusPendingConfirmation DraftStatus = "pending_confirmation"
	DraftStatusConfirmed           DraftStatus = "confirmed"
	DraftStatusRejected            DraftStatus = "rejected"
)

func (s DraftStatus) Valid() bool {
	switch s {
	case DraftStatusPendingConfirmation, DraftStatusConfirmed, DraftStatusRejected:
		return true
	}
	return false
}

func (s DraftStatus) Terminal() bool {
	return s == DraftStatusConfirmed || s == DraftStatusRejected
}

// PaymentDraft is a payment submission awaiting administrative confirmation.
type PaymentDraft struct {
	ID            string
	StudentID     string
	RoomNumber    string
	Month         string
	Method        PaymentMethod
	Amount        decimal.Decimal
	TransactionID *string
	ExtractedText *string
	Notes         *string
	AdminNotes    *string
	Status        DraftStatus
	SubmittedAt   time.Time
	ConfirmedAt   *time.Time
	RejectedAt    *time.Time
	UpdatedAt     time.Time
}

// DraftInput is what the payer-facing flow collected before submit.
type DraftInput struct {
	StudentID              string
	RoomNumber             string
	Month                  string
	Method                 PaymentMethod
	Amount                 decimal.Decimal
	TransactionID          string
	ExtractedTransactionID string
	ExtractedText          string
	Notes                  string
}

// BuildDraft validates in and assembles a draft in pending_confirmation.
// The draft has no ID yet; the store assigns one on submission.
func BuildDraft(in DraftInput, now time.Time) (*PaymentDraft, error) {
	method := PaymentMethod(strings.TrimSpace(string(in.Method)))
	if method == "" {
		return nil, ErrMethodRequired
	}
	if !method.Valid() {
		return nil, ErrUnknownMethod
	}

	if in.Amount.IsZero() {
		return nil, ErrAmountRequired
	}
	if in.Amount.Round(2).Sign() <= 0 {
		return nil, ErrAmountNotPositive
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return nil, ErrAmountPrecision
	}
	if in.Amount.GreaterThan(MaxAmount) {
		return nil, ErrAmountTooLarge
	}

	txnID := ResolveTransactionID(method, in.ExtractedTransactionID, in.TransactionID)
	if method.RequiresTransactionID() && txnID == nil {
		return nil, ErrTransactionIDRequired
	}

	month := strings.TrimSpace(in.Month)
	if month == "" {
		month = now.Format("2006-01")
	}

	draft := &PaymentDraft{
		StudentID:     in.StudentID,
		RoomNumber:    in.RoomNumber,
		Month:         month,
		Method:        method,
		Amount:        in.Amount,
		TransactionID: txnID,
		Notes:         optionalString(in.Notes),
		Status:        DraftStatusPendingConfirmation,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}
	if method == PaymentMethodUPI {
		draft.ExtractedText = optionalString(in.ExtractedText)
	}
	return draft, nil
}

// ResolveTransactionID picks the id a draft will carry. Cash never carries one;
// otherwise an extracted id takes precedence over a manually entered one.
func ResolveTransactionID(method PaymentMethod, extracted, manual string) *string {
	if method == PaymentMethodCash {
		return nil
	}
	if id := optionalString(extracted); id != nil {
		return id
	}
	return optionalString(manual)
}

func (d *PaymentDraft) Confirm(now time.Time) error {
	if d.Status != DraftStatusPendingConfirmation {
		return NewStateConflict(d.ID, d.Status, DraftStatusConfirmed)
	}
	d.Status = DraftStatusConfirmed
	d.ConfirmedAt = &now
	d.UpdatedAt = now
	return nil
}

func (d *PaymentDraft) Reject(now time.Time, reason string) error {
	if d.Status != DraftStatusPendingConfirmation {
		return NewStateConflict(d.ID, d.Status, DraftStatusRejected)
	}
	d.Status = DraftStatusRejected
	d.RejectedAt = &now
	d.UpdatedAt = now
	d.AppendAdminNote(reason)
	return nil
}

// AppendAdminNote is allowed in every status.
func (d *PaymentDraft) AppendAdminNote(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	if d.AdminNotes == nil || *d.AdminNotes == "" {
		d.AdminNotes = &note
		return
	}
	joined := *d.AdminNotes + "\n" + note
	d.AdminNotes = &joined
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
