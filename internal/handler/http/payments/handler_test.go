package payments_http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"hostelpay/internal/app/payments"
	"hostelpay/internal/auth"
	"hostelpay/internal/domain"
	"hostelpay/internal/domain/event"
	"hostelpay/internal/feed"
	middleware_http "hostelpay/internal/handler/http/middleware"
	"hostelpay/internal/intake"
	"hostelpay/internal/notify"
	"hostelpay/internal/ocr"
)

type stubPaymentService struct {
	uploads    atomic.Int32
	lastInput  domain.DraftInput
	lastKey    string
	submitErr  error
	confirmErr error
	draft      *domain.PaymentDraft
}

func (s *stubPaymentService) UploadScreenshot(ctx context.Context, key string, method domain.PaymentMethod, img *intake.Image) (*payments.UploadResult, error) {
	s.uploads.Add(1)
	if n, ok := notify.CollectorFrom(ctx); ok {
		n.Add(notify.Success("Transaction ID Extracted", "TXN123456789"))
	}
	return &payments.UploadResult{
		Method:        method,
		Preview:       img.Preview(),
		Extracted:     true,
		TransactionID: "TXN123456789",
		Rule:          "txn",
	}, nil
}

func (s *stubPaymentService) ScreenshotStatus(string) ocr.State { return ocr.StateIdle }

func (s *stubPaymentService) Submit(_ context.Context, in domain.DraftInput, key string) (*payments.Ack, error) {
	s.lastInput = in
	s.lastKey = key
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	d, err := domain.BuildDraft(in, time.Date(2025, 1, 12, 10, 0, 0, 0, time.UTC))
	if err != nil {
		return nil, err
	}
	d.ID = "draft-1"
	return &payments.Ack{DraftID: d.ID, Status: d.Status, SubmittedAt: d.SubmittedAt, Draft: d}, nil
}

func (s *stubPaymentService) ListDrafts(context.Context, domain.DraftStatus, int) ([]domain.PaymentDraft, error) {
	return []domain.PaymentDraft{*s.draft}, nil
}

func (s *stubPaymentService) GetDraft(_ context.Context, id string) (*domain.PaymentDraft, error) {
	if id != s.draft.ID {
		return nil, domain.ErrDraftNotFound
	}
	return s.draft, nil
}

func (s *stubPaymentService) Confirm(_ context.Context, id string) (*domain.PaymentDraft, error) {
	if s.confirmErr != nil {
		return nil, s.confirmErr
	}
	return s.draft, nil
}

func (s *stubPaymentService) Reject(context.Context, string, string) (*domain.PaymentDraft, error) {
	return s.draft, nil
}

func (s *stubPaymentService) Annotate(context.Context, string, string) (*domain.PaymentDraft, error) {
	return s.draft, nil
}

func (s *stubPaymentService) StudentHistory(context.Context, string) (*payments.History, error) {
	return &payments.History{Drafts: []domain.PaymentDraft{*s.draft}}, nil
}

type fixture struct {
	router  chi.Router
	service *stubPaymentService
	tokens  *auth.TokenManager
	hub     *feed.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	txn := "TXN123456789"
	f := &fixture{
		service: &stubPaymentService{draft: &domain.PaymentDraft{
			ID:            "draft-1",
			StudentID:     "S-101",
			Month:         "2025-01",
			Method:        domain.PaymentMethodUPI,
			Amount:        decimal.RequireFromString("4500"),
			TransactionID: &txn,
			Status:        domain.DraftStatusPendingConfirmation,
		}},
		tokens: auth.NewTokenManager("test-secret", time.Hour),
		hub:    feed.NewHub(4, logger),
	}
	r := chi.NewRouter()
	r.Use(middleware_http.Notices)
	RegisterRoutes(r, f.service, RouteConfig{
		Tokens:        f.tokens,
		Hub:           f.hub,
		Validate:      validator.New(),
		MaxImageBytes: intake.DefaultMaxBytes,
	}, logger)
	f.router = r
	return f
}

func (f *fixture) token(t *testing.T, role domain.Role) string {
	t.Helper()
	s := auth.Session{UserID: "u-1", Role: role}
	if role == domain.RoleStudent {
		s.StudentID = "S-101"
		s.RoomNumber = "B-12"
	}
	raw, _, err := f.tokens.Issue(s)
	require.NoError(t, err)
	return raw
}

func (f *fixture) do(t *testing.T, req *http.Request, role domain.Role) *httptest.ResponseRecorder {
	t.Helper()
	req.Header.Set("Authorization", "Bearer "+f.token(t, role))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func screenshotRequest(t *testing.T, contentType string, size int) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("method", "upi"))

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="screenshot"; filename="receipt.png"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte{0x89}, size))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/student/payments/screenshot", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadScreenshot(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, screenshotRequest(t, "image/png", 1024), domain.RoleStudent)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp UploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Extracted)
	assert.Equal(t, "TXN123456789", resp.TransactionID)
	assert.True(t, strings.HasPrefix(resp.Preview, "data:image/png;base64,"))
	require.Len(t, resp.Notices, 1)
	assert.Equal(t, notify.LevelSuccess, resp.Notices[0].Level)
}

func TestUploadScreenshotRejectsBeforeExtraction(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		size        int
		want        int
		code        string
	}{
		{"over limit by content length", "image/png", 6 << 20, http.StatusRequestEntityTooLarge, ""},
		{"over limit inside the form", "image/png", 5<<20 + 512<<10, http.StatusRequestEntityTooLarge, string(domain.CodeTooLarge)},
		{"not an image", "application/pdf", 1024, http.StatusBadRequest, string(domain.CodeInvalidType)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, screenshotRequest(t, tt.contentType, tt.size), domain.RoleStudent)
			assert.Equal(t, tt.want, rec.Code)
			if tt.code != "" {
				var body map[string]any
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
				assert.Equal(t, tt.code, body["code"])
			}
			assert.Zero(t, f.service.uploads.Load())
		})
	}
}

func TestSubmitPayment(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/student/payments/",
		strings.NewReader(`{"method":"upi","amount":"4500","month":"2025-01","extracted_transaction_id":"TXN123456789"}`))
	req.Header.Set("Idempotency-Key", "abc")
	rec := f.do(t, req, domain.RoleStudent)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp SubmitPaymentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "draft-1", resp.DraftID)
	assert.Equal(t, string(domain.DraftStatusPendingConfirmation), resp.Status)
	assert.Equal(t, "4500.00", resp.Draft.Amount)
	require.NotNil(t, resp.Draft.TransactionID)
	assert.Equal(t, "TXN123456789", *resp.Draft.TransactionID)

	assert.Equal(t, "S-101", f.service.lastInput.StudentID)
	assert.Equal(t, "B-12", f.service.lastInput.RoomNumber)
	assert.Equal(t, "abc", f.service.lastKey)
}

func TestSubmitPaymentErrors(t *testing.T) {
	echoed := &domain.PaymentDraft{StudentID: "S-101", Method: domain.PaymentMethodCash, Amount: decimal.NewFromInt(100)}

	tests := []struct {
		name string
		body string
		err  error
		want int
		code string
	}{
		{"missing transaction id", `{"method":"upi","amount":"4500"}`, nil, http.StatusBadRequest, string(domain.CodeTransactionIDRequired)},
		{"bad month", `{"method":"cash","amount":"100","month":"January"}`, nil, http.StatusBadRequest, "bad_request"},
		{"network", `{"method":"cash","amount":"100"}`, &domain.SubmissionError{Kind: domain.SubmissionNetwork, Draft: echoed}, http.StatusServiceUnavailable, "submission_network"},
		{"rejected", `{"method":"cash","amount":"100"}`, &domain.SubmissionError{Kind: domain.SubmissionRejected, Draft: echoed}, http.StatusUnprocessableEntity, "submission_rejected"},
		{"in flight", `{"method":"cash","amount":"100"}`, domain.ErrSubmissionInFlight, http.StatusConflict, "in_flight"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.service.submitErr = tt.err

			rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/student/payments/", strings.NewReader(tt.body)), domain.RoleStudent)
			assert.Equal(t, tt.want, rec.Code)

			var body map[string]any
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body["code"])
			if _, ok := tt.err.(*domain.SubmissionError); ok {
				draft, ok := body["draft"].(map[string]any)
				require.True(t, ok)
				assert.Equal(t, "100.00", draft["amount"])
			}
		})
	}
}

func TestRoleGates(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/drafts/", nil), domain.RoleStudent)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/student/payments/", nil), domain.RoleAdmin)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/drafts/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminDraftRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/drafts/?status=pending_confirmation&limit=10", nil), domain.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	var list DraftListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Drafts, 1)
	assert.Equal(t, "draft-1", list.Drafts[0].ID)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/drafts/?limit=-1", nil), domain.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/admin/drafts/missing", nil), domain.RoleAdmin)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/api/admin/drafts/draft-1/reject", nil), domain.RoleAdmin)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodPatch, "/api/admin/drafts/draft-1/notes", strings.NewReader(`{"note":""}`)), domain.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfirmConflict(t *testing.T) {
	f := newFixture(t)
	f.service.confirmErr = domain.NewStateConflict("draft-1", domain.DraftStatusConfirmed, domain.DraftStatusConfirmed)

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/admin/drafts/draft-1/confirm", nil), domain.RoleAdmin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "state_conflict", body["code"])
	assert.Equal(t, "confirmed", body["current_status"])
}

func TestDraftStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/api/admin/drafts/stream?access_token="+f.token(t, domain.RoleAdmin), nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	f.hub.Publish(event.DraftEvent{EventID: "ev-1", Type: event.DraftSubmitted, DraftID: "draft-1", Status: "pending_confirmation"})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		lines = append(lines, line)
	}
	assert.Equal(t, "id: ev-1", lines[0])
	assert.Equal(t, "event: draft.submitted", lines[1])
	assert.Contains(t, lines[2], `"draft_id":"draft-1"`)
}
