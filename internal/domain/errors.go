package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDraftNotFound      = errors.New("payment draft not found")
	ErrDraftNotPending    = errors.New("payment draft is not pending confirmation")
	ErrAlreadyConfirmed   = errors.New("payment draft already confirmed")
	ErrAlreadyRejected    = errors.New("payment draft already rejected")
	ErrSubmissionInFlight = errors.New("payment submission already in progress")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type ValidationCode string

const (
	CodeInvalidType           ValidationCode = "invalid_type"
	CodeTooLarge              ValidationCode = "too_large"
	CodeMethodRequired        ValidationCode = "method_required"
	CodeUnknownMethod         ValidationCode = "unknown_method"
	CodeAmountRequired        ValidationCode = "amount_required"
	CodeAmountNotPositive     ValidationCode = "amount_not_positive"
	CodeAmountPrecision       ValidationCode = "amount_precision"
	CodeAmountTooLarge        ValidationCode = "amount_too_large"
	CodeTransactionIDRequired ValidationCode = "transaction_id_required"
	CodeNoteRequired          ValidationCode = "note_required"
	CodeUnknownStatus         ValidationCode = "unknown_status"
)

// ValidationError is a local, recoverable input problem. Two validation errors
// match under errors.Is when their codes are equal.
type ValidationError struct {
	Code    ValidationCode
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidType           = &ValidationError{Code: CodeInvalidType, Field: "file", Message: "please upload an image file"}
	ErrTooLarge              = &ValidationError{Code: CodeTooLarge, Field: "file", Message: "image is larger than the allowed size"}
	ErrMethodRequired        = &ValidationError{Code: CodeMethodRequired, Field: "method", Message: "payment method is required"}
	ErrUnknownMethod         = &ValidationError{Code: CodeUnknownMethod, Field: "method", Message: "payment method must be upi, cash or bank_transfer"}
	ErrAmountRequired        = &ValidationError{Code: CodeAmountRequired, Field: "amount", Message: "payment amount is required"}
	ErrAmountNotPositive     = &ValidationError{Code: CodeAmountNotPositive, Field: "amount", Message: "payment amount must be positive"}
	ErrAmountPrecision       = &ValidationError{Code: CodeAmountPrecision, Field: "amount", Message: "payment amount may have at most two decimal places"}
	ErrAmountTooLarge        = &ValidationError{Code: CodeAmountTooLarge, Field: "amount", Message: "payment amount exceeds the allowed maximum"}
	ErrTransactionIDRequired = &ValidationError{Code: CodeTransactionIDRequired, Field: "transaction_id", Message: "transaction id is required for upi and bank transfer payments"}
	ErrNoteRequired          = &ValidationError{Code: CodeNoteRequired, Field: "note", Message: "note must not be empty"}
	ErrUnknownStatus         = &ValidationError{Code: CodeUnknownStatus, Field: "status", Message: "status must be pending_confirmation, confirmed or rejected"}
)

type ExtractionReason string

const (
	ExtractionFailed      ExtractionReason = "failed"
	ExtractionTimeout     ExtractionReason = "timeout"
	ExtractionUnavailable ExtractionReason = "unavailable"
	ExtractionSuperseded  ExtractionReason = "superseded"
)

// ExtractionError never aborts a submission; the payer falls back to manual entry.
type ExtractionError struct {
	Reason ExtractionReason
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("text extraction %s", e.Reason)
	}
	return fmt.Sprintf("text extraction %s: %v", e.Reason, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

type SubmissionKind string

const (
	SubmissionNetwork  SubmissionKind = "network"
	SubmissionRejected SubmissionKind = "rejected"
	SubmissionUnknown  SubmissionKind = "unknown"
)

// SubmissionError carries the draft that failed to persist so it can be resubmitted.
type SubmissionError struct {
	Kind  SubmissionKind
	Draft *PaymentDraft
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("payment submission failed (%s): %v", e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// StateConflictError is returned when a transition is attempted on a draft
// that already left pending_confirmation.
type StateConflictError struct {
	DraftID string
	Current DraftStatus
	Target  DraftStatus
}

func NewStateConflict(draftID string, current, target DraftStatus) *StateConflictError {
	return &StateConflictError{DraftID: draftID, Current: current, Target: target}
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot move payment draft %s from %s to %s", e.DraftID, e.Current, e.Target)
}

func (e *StateConflictError) Is(target error) bool {
	switch target {
	case ErrDraftNotPending:
		return true
	case ErrAlreadyConfirmed:
		return e.Current == DraftStatusConfirmed
	case ErrAlreadyRejected:
		return e.Current == DraftStatusRejected
	}
	return false
}
