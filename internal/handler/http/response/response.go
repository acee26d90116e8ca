// Package response writes JSON bodies and maps service errors to HTTP statuses.
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"hostelpay/internal/domain"
	"hostelpay/internal/notify"
)

type ErrorBody struct {
	Error   string          `json:"error"`
	Code    string          `json:"code,omitempty"`
	Field   string          `json:"field,omitempty"`
	Current string          `json:"current_status,omitempty"`
	Draft   any             `json:"draft,omitempty"`
	Notices []notify.Notice `json:"notices,omitempty"`
}

func JSON(w http.ResponseWriter, r *http.Request, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

// Notices returns the notices raised so far while handling r.
func Notices(r *http.Request) []notify.Notice {
	if c, ok := notify.CollectorFrom(r.Context()); ok {
		return c.Notices()
	}
	return nil
}

// DraftView renders a draft echoed back in an error body.
type DraftView func(*domain.PaymentDraft) any

// Error maps err onto a status code and writes an ErrorBody.
func Error(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error, view DraftView) {
	body := ErrorBody{Error: err.Error(), Notices: Notices(r)}
	status := http.StatusInternalServerError

	var (
		vErr        *domain.ValidationError
		subErr      *domain.SubmissionError
		exErr       *domain.ExtractionError
		conflictErr *domain.StateConflictError
	)
	switch {
	case errors.As(err, &vErr):
		status = http.StatusBadRequest
		if vErr.Code == domain.CodeTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		body.Code = string(vErr.Code)
		body.Field = vErr.Field
	case errors.As(err, &subErr):
		switch subErr.Kind {
		case domain.SubmissionNetwork:
			status = http.StatusServiceUnavailable
		case domain.SubmissionRejected:
			status = http.StatusUnprocessableEntity
		}
		body.Code = "submission_" + string(subErr.Kind)
		body.Error = "payment could not be submitted"
		if subErr.Draft != nil && view != nil {
			body.Draft = view(subErr.Draft)
		}
	case errors.As(err, &exErr):
		status = http.StatusConflict
		body.Code = "extraction_" + string(exErr.Reason)
	case errors.As(err, &conflictErr):
		status = http.StatusConflict
		body.Code = "state_conflict"
		body.Current = string(conflictErr.Current)
	case errors.Is(err, domain.ErrDraftNotFound):
		status = http.StatusNotFound
		body.Code = "not_found"
	case errors.Is(err, domain.ErrSubmissionInFlight):
		status = http.StatusConflict
		body.Code = "in_flight"
	case errors.Is(err, domain.ErrInvalidCredentials):
		status = http.StatusUnauthorized
		body.Code = "invalid_credentials"
	default:
		body.Error = "internal server error"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	} else {
		logger.Warn("Request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	JSON(w, r, logger, status, body)
}

// BadRequest writes a 400 for malformed input that never reached a service.
func BadRequest(w http.ResponseWriter, r *http.Request, logger *zap.Logger, msg string) {
	JSON(w, r, logger, http.StatusBadRequest, ErrorBody{Error: msg, Code: "bad_request"})
}
