package drafts_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hostelpay/internal/domain"
)

const draftColumns = `id, student_id, room_number, month, method, amount, transaction_id, extracted_text,
		notes, admin_notes, status, submitted_at, confirmed_at, rejected_at, updated_at`

type draftRepository struct{}

func NewDraftRepository() *draftRepository {
	return &draftRepository{}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (*domain.PaymentDraft, error) {
	var (
		d             domain.PaymentDraft
		txnID         sql.NullString
		extractedText sql.NullString
		notes         sql.NullString
		adminNotes    sql.NullString
		confirmedAt   sql.NullTime
		rejectedAt    sql.NullTime
	)
	err := row.Scan(
		&d.ID,
		&d.StudentID,
		&d.RoomNumber,
		&d.Month,
		&d.Method,
		&d.Amount,
		&txnID,
		&extractedText,
		&notes,
		&adminNotes,
		&d.Status,
		&d.SubmittedAt,
		&confirmedAt,
		&rejectedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.TransactionID = stringPtr(txnID)
	d.ExtractedText = stringPtr(extractedText)
	d.Notes = stringPtr(notes)
	d.AdminNotes = stringPtr(adminNotes)
	if confirmedAt.Valid {
		d.ConfirmedAt = &confirmedAt.Time
	}
	if rejectedAt.Valid {
		d.RejectedAt = &rejectedAt.Time
	}
	return &d, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func (r *draftRepository) CreateTx(ctx context.Context, querier domain.Querier, draft *domain.PaymentDraft) error {
	query := `
		INSERT INTO payment_drafts (id, student_id, room_number, month, method, amount, transaction_id,
			extracted_text, notes, admin_notes, status, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := querier.ExecContext(ctx, query,
		draft.ID,
		draft.StudentID,
		draft.RoomNumber,
		draft.Month,
		draft.Method,
		draft.Amount,
		draft.TransactionID,
		draft.ExtractedText,
		draft.Notes,
		draft.AdminNotes,
		draft.Status,
		draft.SubmittedAt,
		draft.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment draft: %w", err)
	}
	return nil
}

func (r *draftRepository) GetByIDTx(ctx context.Context, querier domain.Querier, id string) (*domain.PaymentDraft, error) {
	query := `SELECT ` + draftColumns + ` FROM payment_drafts WHERE id = $1`

	draft, err := scanDraft(querier.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDraftNotFound
		}
		return nil, fmt.Errorf("failed to get payment draft %s: %w", id, err)
	}
	return draft, nil
}

func (r *draftRepository) ListByStatus(ctx context.Context, querier domain.Querier, status domain.DraftStatus, limit int) ([]domain.PaymentDraft, error) {
	query := `SELECT ` + draftColumns + `
		FROM payment_drafts
		WHERE status = $1
		ORDER BY submitted_at DESC
		LIMIT $2`
	return r.list(ctx, querier, query, status, limit)
}

func (r *draftRepository) ListByStudent(ctx context.Context, querier domain.Querier, studentID string, limit int) ([]domain.PaymentDraft, error) {
	query := `SELECT ` + draftColumns + `
		FROM payment_drafts
		WHERE student_id = $1
		ORDER BY submitted_at DESC
		LIMIT $2`
	return r.list(ctx, querier, query, studentID, limit)
}

func (r *draftRepository) list(ctx context.Context, querier domain.Querier, query string, args ...any) ([]domain.PaymentDraft, error) {
	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment drafts: %w", err)
	}
	defer rows.Close()

	drafts := make([]domain.PaymentDraft, 0)
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment draft: %w", err)
		}
		drafts = append(drafts, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment drafts: %w", err)
	}
	return drafts, nil
}

func (r *draftRepository) ConfirmIfPendingTx(ctx context.Context, querier domain.Querier, id string, at time.Time) (*domain.PaymentDraft, error) {
	query := `
		UPDATE payment_drafts
		SET status = $2, confirmed_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4
		RETURNING ` + draftColumns
	return r.transition(ctx, querier, query, id, domain.DraftStatusConfirmed, at, domain.DraftStatusPendingConfirmation)
}

func (r *draftRepository) RejectIfPendingTx(ctx context.Context, querier domain.Querier, id string, at time.Time, reason string) (*domain.PaymentDraft, error) {
	query := `
		UPDATE payment_drafts
		SET status = $2,
			rejected_at = $3,
			updated_at = $3,
			admin_notes = CASE
				WHEN $5::text = '' THEN admin_notes
				WHEN admin_notes IS NULL OR admin_notes = '' THEN $5::text
				ELSE admin_notes || E'\n' || $5::text
			END
		WHERE id = $1 AND status = $4
		RETURNING ` + draftColumns
	return r.transition(ctx, querier, query, id, domain.DraftStatusRejected, at, domain.DraftStatusPendingConfirmation, reason)
}

func (r *draftRepository) transition(ctx context.Context, querier domain.Querier, query string, id string, args ...any) (*domain.PaymentDraft, error) {
	draft, err := scanDraft(querier.QueryRowContext(ctx, query, append([]any{id}, args...)...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDraftNotPending
		}
		return nil, fmt.Errorf("failed to update payment draft %s: %w", id, err)
	}
	return draft, nil
}

func (r *draftRepository) AppendAdminNoteTx(ctx context.Context, querier domain.Querier, id string, note string, at time.Time) (*domain.PaymentDraft, error) {
	query := `
		UPDATE payment_drafts
		SET admin_notes = CASE
				WHEN admin_notes IS NULL OR admin_notes = '' THEN $2::text
				ELSE admin_notes || E'\n' || $2::text
			END,
			updated_at = $3
		WHERE id = $1
		RETURNING ` + draftColumns

	draft, err := scanDraft(querier.QueryRowContext(ctx, query, id, note, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDraftNotFound
		}
		return nil, fmt.Errorf("failed to annotate payment draft %s: %w", id, err)
	}
	return draft, nil
}
