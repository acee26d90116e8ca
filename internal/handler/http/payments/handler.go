package payments_http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hostelpay/internal/app/payments"
	"hostelpay/internal/auth"
	"hostelpay/internal/domain"
	"hostelpay/internal/handler/http/response"
	"hostelpay/internal/intake"
	"hostelpay/internal/notify"
)

// multipartOverhead is headroom for form fields and part headers around the image.
const multipartOverhead = 1 << 20

type PaymentHandler struct {
	service       payments.PaymentService
	validate      *validator.Validate
	maxImageBytes int64
	logger        *zap.Logger
}

func NewPaymentHandler(s payments.PaymentService, v *validator.Validate, maxImageBytes int64, l *zap.Logger) *PaymentHandler {
	if maxImageBytes <= 0 {
		maxImageBytes = intake.DefaultMaxBytes
	}
	return &PaymentHandler{service: s, validate: v, maxImageBytes: maxImageBytes, logger: l}
}

type DraftResponse struct {
	ID            string     `json:"id,omitempty"`
	StudentID     string     `json:"student_id"`
	RoomNumber    string     `json:"room_number,omitempty"`
	Month         string     `json:"month"`
	Method        string     `json:"method"`
	Amount        string     `json:"amount"`
	TransactionID *string    `json:"transaction_id"`
	ExtractedText *string    `json:"extracted_text,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	AdminNotes    *string    `json:"admin_notes,omitempty"`
	Status        string     `json:"status"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	RejectedAt    *time.Time `json:"rejected_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toDraftResponse(d *domain.PaymentDraft) DraftResponse {
	return DraftResponse{
		ID:            d.ID,
		StudentID:     d.StudentID,
		RoomNumber:    d.RoomNumber,
		Month:         d.Month,
		Method:        string(d.Method),
		Amount:        d.Amount.StringFixed(2),
		TransactionID: d.TransactionID,
		ExtractedText: d.ExtractedText,
		Notes:         d.Notes,
		AdminNotes:    d.AdminNotes,
		Status:        string(d.Status),
		SubmittedAt:   d.SubmittedAt,
		ConfirmedAt:   d.ConfirmedAt,
		RejectedAt:    d.RejectedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func draftView(d *domain.PaymentDraft) any {
	return toDraftResponse(d)
}

type LedgerEntryResponse struct {
	ID            string    `json:"id"`
	DraftID       string    `json:"draft_id"`
	Month         string    `json:"month"`
	Amount        string    `json:"amount"`
	Method        string    `json:"method"`
	TransactionID *string   `json:"transaction_id"`
	Status        string    `json:"status"`
	PaymentDate   time.Time `json:"payment_date"`
}

type UploadResponse struct {
	Method            string          `json:"method"`
	Preview           string          `json:"preview"`
	Extracted         bool            `json:"extracted"`
	TransactionID     string          `json:"transaction_id"`
	MatchedRule       string          `json:"matched_rule,omitempty"`
	ExtractedText     string          `json:"extracted_text,omitempty"`
	ExtractionFailure string          `json:"extraction_failure,omitempty"`
	Notices           []notify.Notice `json:"notices,omitempty"`
}

type SubmitPaymentRequest struct {
	Method                 string          `json:"method"`
	Amount                 decimal.Decimal `json:"amount"`
	Month                  string          `json:"month" validate:"omitempty,datetime=2006-01"`
	TransactionID          string          `json:"transaction_id" validate:"max=64"`
	ExtractedTransactionID string          `json:"extracted_transaction_id" validate:"max=64"`
	ExtractedText          string          `json:"extracted_text" validate:"max=20000"`
	Notes                  string          `json:"notes" validate:"max=1000"`
}

type SubmitPaymentResponse struct {
	DraftID     string          `json:"draft_id"`
	Status      string          `json:"status"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Draft       DraftResponse   `json:"draft"`
	Notices     []notify.Notice `json:"notices,omitempty"`
}

type HistoryResponse struct {
	Drafts []DraftResponse       `json:"drafts"`
	Ledger []LedgerEntryResponse `json:"ledger"`
}

type DraftListResponse struct {
	Drafts []DraftResponse `json:"drafts"`
}

type DraftActionResponse struct {
	Draft   DraftResponse   `json:"draft"`
	Notices []notify.Notice `json:"notices,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type NotesRequest struct {
	Note string `json:"note" validate:"required,max=2000"`
}

func (h *PaymentHandler) session(w http.ResponseWriter, r *http.Request) (auth.Session, bool) {
	s, ok := auth.FromContext(r.Context())
	if !ok {
		response.JSON(w, r, h.logger, http.StatusUnauthorized, response.ErrorBody{Error: "missing session", Code: "unauthorized"})
	}
	return s, ok
}

func (h *PaymentHandler) UploadScreenshotHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	limit := h.maxImageBytes + multipartOverhead
	if r.ContentLength > limit {
		response.Error(w, r, h.logger, domain.ErrTooLarge, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, r, h.logger, domain.ErrTooLarge, nil)
			return
		}
		h.logger.Warn("Invalid screenshot upload form", zap.Error(err))
		response.BadRequest(w, r, h.logger, "expected multipart form with a screenshot file")
		return
	}
	defer r.MultipartForm.RemoveAll()

	method := domain.PaymentMethod(r.FormValue("method"))
	if method == "" {
		method = domain.PaymentMethodUPI
	}
	if !method.Valid() {
		response.Error(w, r, h.logger, domain.ErrUnknownMethod, nil)
		return
	}

	file, header, err := r.FormFile("screenshot")
	if err != nil {
		response.BadRequest(w, r, h.logger, "screenshot file is required")
		return
	}
	defer file.Close()

	img, err := intake.Accept(header.Header.Get("Content-Type"), header.Size, file, h.maxImageBytes)
	if err != nil {
		response.Error(w, r, h.logger, err, nil)
		return
	}

	res, err := h.service.UploadScreenshot(r.Context(), session.Key(), method, img)
	if err != nil {
		response.Error(w, r, h.logger, err, nil)
		return
	}

	response.JSON(w, r, h.logger, http.StatusOK, UploadResponse{
		Method:            string(res.Method),
		Preview:           res.Preview,
		Extracted:         res.Extracted,
		TransactionID:     res.TransactionID,
		MatchedRule:       res.Rule,
		ExtractedText:     res.Text,
		ExtractionFailure: string(res.Failure),
		Notices:           response.Notices(r),
	})
}

func (h *PaymentHandler) ScreenshotStatusHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	response.JSON(w, r, h.logger, http.StatusOK, map[string]string{
		"state": string(h.service.ScreenshotStatus(session.Key())),
	})
}

func (h *PaymentHandler) SubmitPaymentHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req SubmitPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid submit payment body", zap.Error(err))
		response.BadRequest(w, r, h.logger, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, r, h.logger, err.Error())
		return
	}

	ack, err := h.service.Submit(r.Context(), domain.DraftInput{
		StudentID:              session.StudentID,
		RoomNumber:             session.RoomNumber,
		Month:                  req.Month,
		Method:                 domain.PaymentMethod(req.Method),
		Amount:                 req.Amount,
		TransactionID:          req.TransactionID,
		ExtractedTransactionID: req.ExtractedTransactionID,
		ExtractedText:          req.ExtractedText,
		Notes:                  req.Notes,
	}, r.Header.Get("Idempotency-Key"))
	if err != nil {
		response.Error(w, r, h.logger, err, draftView)
		return
	}

	response.JSON(w, r, h.logger, http.StatusCreated, SubmitPaymentResponse{
		DraftID:     ack.DraftID,
		Status:      string(ack.Status),
		SubmittedAt: ack.SubmittedAt,
		Draft:       toDraftResponse(ack.Draft),
		Notices:     response.Notices(r),
	})
}

func (h *PaymentHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	history, err := h.service.StudentHistory(r.Context(), session.StudentID)
	if err != nil {
		response.Error(w, r, h.logger, err, nil)
		return
	}

	resp := HistoryResponse{
		Drafts: make([]DraftResponse, 0, len(history.Drafts)),
		Ledger: make([]LedgerEntryResponse, 0, len(history.Ledger)),
	}
	for i := range history.Drafts {
		resp.Drafts = append(resp.Drafts, toDraftResponse(&history.Drafts[i]))
	}
	for _, e := range history.Ledger {
		resp.Ledger = append(resp.Ledger, LedgerEntryResponse{
			ID:            e.ID,
			DraftID:       e.DraftID,
			Month:         e.Month,
			Amount:        e.Amount.StringFixed(2),
			Method:        string(e.Method),
			TransactionID: e.TransactionID,
			Status:        e.Status,
			PaymentDate:   e.PaymentDate,
		})
	}
	response.JSON(w, r, h.logger, http.StatusOK, resp)
}

func (h *PaymentHandler) ListDraftsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.BadRequest(w, r, h.logger, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	drafts, err := h.service.ListDrafts(r.Context(), domain.DraftStatus(r.URL.Query().Get("status")), limit)
	if err != nil {
		response.Error(w, r, h.logger, err, nil)
		return
	}

	resp := DraftListResponse{Drafts: make([]DraftResponse, 0, len(drafts))}
	for i := range drafts {
		resp.Drafts = append(resp.Drafts, toDraftResponse(&drafts[i]))
	}
	response.JSON(w, r, h.logger, http.StatusOK, resp)
}

func (h *PaymentHandler) GetDraftHandler(w http.ResponseWriter, r *http.Request) {
	draft, err := h.service.GetDraft(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, h.logger, err, nil)
		return
	}
	response.JSON(w, r, h.logger, http.StatusOK, toDraftResponse(draft))
}

func (h *PaymentHandler) ConfirmDraftHandler(w http.ResponseWriter, r *http.Request) {
	draft, err := h.service.Confirm(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, h.logger, err, nil)
		return
	}
	h.writeAction(w, r, draft)
}

func (h *PaymentHandler) RejectDraftHandler(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, r, h.logger, "invalid request body")
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, r, h.logger, err.Error())
		return
	}

	draft, err := h.service.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		response.Error(w, r, h.logger, err, nil)
		return
	}
	h.writeAction(w, r, draft)
}

func (h *PaymentHandler) AnnotateDraftHandler(w http.ResponseWriter, r *http.Request) {
	var req NotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, h.logger, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, r, h.logger, domain.ErrNoteRequired, nil)
		return
	}

	draft, err := h.service.Annotate(r.Context(), chi.URLParam(r, "id"), req.Note)
	if err != nil {
		response.Error(w, r, h.logger, err, nil)
		return
	}
	h.writeAction(w, r, draft)
}

func (h *PaymentHandler) writeAction(w http.ResponseWriter, r *http.Request, d *domain.PaymentDraft) {
	response.JSON(w, r, h.logger, http.StatusOK, DraftActionResponse{
		Draft:   toDraftResponse(d),
		Notices: response.Notices(r),
	})
}
