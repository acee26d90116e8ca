package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"hostelpay/internal/domain"
	"hostelpay/internal/domain/event"
	"hostelpay/internal/guard"
	"hostelpay/internal/intake"
	"hostelpay/internal/notify"
	"hostelpay/internal/ocr"
)

type fakeDrafts struct {
	mu        sync.Mutex
	drafts    map[string]domain.PaymentDraft
	createErr error
}

func newFakeDrafts() *fakeDrafts {
	return &fakeDrafts{drafts: make(map[string]domain.PaymentDraft)}
}

func (f *fakeDrafts) CreateTx(_ context.Context, _ domain.Querier, d *domain.PaymentDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.drafts[d.ID] = *d
	return nil
}

func (f *fakeDrafts) GetByIDTx(_ context.Context, _ domain.Querier, id string) (*domain.PaymentDraft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[id]
	if !ok {
		return nil, domain.ErrDraftNotFound
	}
	return &d, nil
}

func (f *fakeDrafts) ListByStatus(_ context.Context, _ domain.Querier, status domain.DraftStatus, limit int) ([]domain.PaymentDraft, error) {
	return f.filter(func(d domain.PaymentDraft) bool { return d.Status == status }, limit), nil
}

func (f *fakeDrafts) ListByStudent(_ context.Context, _ domain.Querier, studentID string, limit int) ([]domain.PaymentDraft, error) {
	return f.filter(func(d domain.PaymentDraft) bool { return d.StudentID == studentID }, limit), nil
}

func (f *fakeDrafts) filter(keep func(domain.PaymentDraft) bool, limit int) []domain.PaymentDraft {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PaymentDraft, 0)
	for _, d := range f.drafts {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (f *fakeDrafts) ConfirmIfPendingTx(_ context.Context, _ domain.Querier, id string, at time.Time) (*domain.PaymentDraft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[id]
	if !ok || d.Status != domain.DraftStatusPendingConfirmation {
		return nil, domain.ErrDraftNotPending
	}
	d.Status = domain.DraftStatusConfirmed
	d.ConfirmedAt = &at
	d.UpdatedAt = at
	f.drafts[id] = d
	return &d, nil
}

func (f *fakeDrafts) RejectIfPendingTx(_ context.Context, _ domain.Querier, id string, at time.Time, reason string) (*domain.PaymentDraft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[id]
	if !ok || d.Status != domain.DraftStatusPendingConfirmation {
		return nil, domain.ErrDraftNotPending
	}
	if err := d.Reject(at, reason); err != nil {
		return nil, err
	}
	f.drafts[id] = d
	return &d, nil
}

func (f *fakeDrafts) AppendAdminNoteTx(_ context.Context, _ domain.Querier, id string, note string, at time.Time) (*domain.PaymentDraft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[id]
	if !ok {
		return nil, domain.ErrDraftNotFound
	}
	d.AppendAdminNote(note)
	d.UpdatedAt = at
	f.drafts[id] = d
	return &d, nil
}

type fakeLedger struct {
	entries []domain.LedgerEntry
}

func (f *fakeLedger) CreateTx(_ context.Context, _ domain.Querier, e *domain.LedgerEntry) error {
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeLedger) ListByStudent(_ context.Context, _ domain.Querier, studentID string, _ int) ([]domain.LedgerEntry, error) {
	out := make([]domain.LedgerEntry, 0)
	for _, e := range f.entries {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeOutbox struct {
	messages []domain.OutboxMessage
}

func (f *fakeOutbox) CreateMessageTx(_ context.Context, _ domain.Querier, msg *domain.OutboxMessage) error {
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *fakeOutbox) GetPendingMessages(context.Context, domain.Querier, int) ([]domain.OutboxMessage, error) {
	return f.messages, nil
}

func (f *fakeOutbox) UpdateMessageStatusTx(context.Context, domain.Querier, string, domain.OutboxMessageStatus) error {
	return nil
}

func (f *fakeOutbox) RecordAttemptTx(context.Context, domain.Querier, string, int) (domain.OutboxMessageStatus, error) {
	return domain.OutboxStatusPending, nil
}

type countingRecognizer struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (r *countingRecognizer) Recognize(context.Context, []byte, string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.text, r.err
}

type fixture struct {
	svc        PaymentService
	mock       sqlmock.Sqlmock
	drafts     *fakeDrafts
	ledger     *fakeLedger
	outbox     *fakeOutbox
	recognizer *countingRecognizer
	guard      *guard.MemoryGuard
	clock      *time.Time
}

var baseTime = time.Date(2025, 1, 12, 10, 30, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	return newFixtureWithNotifier(t, nil)
}

func newFixtureWithNotifier(t *testing.T, notifier notify.Notifier) *fixture {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	logger := zaptest.NewLogger(t)
	clock := baseTime
	f := &fixture{
		mock:       mock,
		drafts:     newFakeDrafts(),
		ledger:     &fakeLedger{},
		outbox:     &fakeOutbox{},
		recognizer: &countingRecognizer{},
		guard:      guard.NewMemoryGuard(time.Minute),
		clock:      &clock,
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	f.svc = NewPaymentService(
		db,
		f.drafts,
		f.ledger,
		f.outbox,
		ocr.NewExtractor(f.recognizer, "eng", time.Second, logger),
		intake.NewHolder(),
		f.guard,
		notifier,
		logger,
		Options{
			DraftEventsTopic: "payment_draft_events",
			Now:              func() time.Time { return *f.clock },
		},
	)
	return f
}

func screenshot(t *testing.T) *intake.Image {
	img, err := intake.Accept("image/png", 8, strings.NewReader("pngbytes"), intake.DefaultMaxBytes)
	require.NoError(t, err)
	return img
}

func noticeTitles(c *notify.Collector) []string {
	var titles []string
	for _, n := range c.Notices() {
		titles = append(titles, n.Title)
	}
	return titles
}

func TestPaymentFlow_UPIScreenshotToConfirmation(t *testing.T) {
	f := newFixture(t)
	f.recognizer.text = "Paid via UPI TXN:ABCDEF123456 on 12 Jan"

	ctx, notices := notify.WithCollector(context.Background())
	img := screenshot(t)
	up, err := f.svc.UploadScreenshot(ctx, "STU-1", domain.PaymentMethodUPI, img)
	require.NoError(t, err)
	assert.True(t, up.Extracted)
	assert.Equal(t, "ABCDEF123456", up.TransactionID)
	assert.Equal(t, "txn", up.Rule)
	assert.True(t, strings.HasPrefix(up.Preview, "data:image/png;base64,"))
	assert.True(t, img.Released())
	assert.Equal(t, []string{"Processing Image", "Transaction ID Extracted"}, noticeTitles(notices))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	ack, err := f.svc.Submit(ctx, domain.DraftInput{
		StudentID:              "STU-1",
		RoomNumber:             "A-101",
		Method:                 domain.PaymentMethodUPI,
		Amount:                 decimal.NewFromInt(5000),
		ExtractedTransactionID: up.TransactionID,
		ExtractedText:          up.Text,
	}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, ack.DraftID)
	assert.Equal(t, domain.DraftStatusPendingConfirmation, ack.Status)
	assert.Equal(t, baseTime, ack.SubmittedAt)

	pending, err := f.svc.ListDrafts(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ABCDEF123456", *pending[0].TransactionID)

	confirmAt := baseTime.Add(3 * time.Hour)
	*f.clock = confirmAt
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	confirmed, err := f.svc.Confirm(ctx, ack.DraftID)
	require.NoError(t, err)
	assert.Equal(t, domain.DraftStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)
	assert.Equal(t, confirmAt, *confirmed.ConfirmedAt)

	require.Len(t, f.ledger.entries, 1)
	assert.Equal(t, ack.DraftID, f.ledger.entries[0].DraftID)
	assert.Equal(t, confirmAt, f.ledger.entries[0].PaymentDate)

	require.Len(t, f.outbox.messages, 2)
	var ev event.DraftEvent
	require.NoError(t, json.Unmarshal(f.outbox.messages[1].Payload, &ev))
	assert.Equal(t, event.DraftConfirmed, ev.Type)
	assert.Equal(t, "5000.00", ev.Amount)
	assert.Equal(t, "ABCDEF123456", ev.TransactionID)
	assert.Equal(t, "payment_draft_events", f.outbox.messages[1].Topic)

	*f.clock = confirmAt.Add(time.Hour)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.Confirm(ctx, ack.DraftID)
	assert.ErrorIs(t, err, domain.ErrAlreadyConfirmed)

	stored, err := f.svc.GetDraft(ctx, ack.DraftID)
	require.NoError(t, err)
	assert.Equal(t, confirmAt, *stored.ConfirmedAt)
	assert.Len(t, f.ledger.entries, 1)

	history, err := f.svc.StudentHistory(ctx, "STU-1")
	require.NoError(t, err)
	assert.Len(t, history.Drafts, 1)
	assert.Len(t, history.Ledger, 1)
}

func TestUploadScreenshot_ExtractionFailureFallsBackToManualEntry(t *testing.T) {
	f := newFixture(t)
	f.recognizer.err = errors.New("engine crashed")

	ctx, notices := notify.WithCollector(context.Background())
	up, err := f.svc.UploadScreenshot(ctx, "STU-1", domain.PaymentMethodUPI, screenshot(t))
	require.NoError(t, err)
	assert.False(t, up.Extracted)
	assert.Empty(t, up.TransactionID)
	assert.Equal(t, domain.ExtractionFailed, up.Failure)
	assert.Contains(t, noticeTitles(notices), "OCR Failed")
}

func TestUploadScreenshot_NonUPISkipsExtraction(t *testing.T) {
	f := newFixture(t)

	up, err := f.svc.UploadScreenshot(context.Background(), "STU-1", domain.PaymentMethodBankTransfer, screenshot(t))
	require.NoError(t, err)
	assert.False(t, up.Extracted)
	assert.Zero(t, f.recognizer.calls)
	assert.Equal(t, ocr.StateIdle, f.svc.ScreenshotStatus("STU-1"))
}

type uploadLabel struct{}

// gatedNotifier parks the upload labelled "first" at its processing notice
// until release is closed.
type gatedNotifier struct {
	parked  chan struct{}
	release chan struct{}
}

func (n *gatedNotifier) Notify(ctx context.Context, notice notify.Notice) {
	if ctx.Value(uploadLabel{}) == "first" && notice.Title == "Processing Image" {
		close(n.parked)
		<-n.release
	}
}

type echoRecognizer struct{}

func (echoRecognizer) Recognize(ctx context.Context, image []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return string(image), nil
}

func TestUploadScreenshot_LatestUploadWinsWhenOlderRunsLate(t *testing.T) {
	gate := &gatedNotifier{parked: make(chan struct{}), release: make(chan struct{})}
	f := newFixtureWithNotifier(t, gate)
	logger := zaptest.NewLogger(t)
	holder := intake.NewHolder()
	f.svc = NewPaymentService(nil, f.drafts, f.ledger, f.outbox,
		ocr.NewExtractor(echoRecognizer{}, "eng", time.Second, logger),
		holder, f.guard, gate, logger, Options{ImageRetention: time.Hour})

	accept := func(text string) *intake.Image {
		img, err := intake.Accept("image/png", int64(len(text)), strings.NewReader(text), intake.DefaultMaxBytes)
		require.NoError(t, err)
		return img
	}
	first := accept("UTR: AAAAAAAAAAAA")
	second := accept("UTR: BBBBBBBBBBBB")

	type outcome struct {
		res *UploadResult
		err error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		ctx := context.WithValue(context.Background(), uploadLabel{}, "first")
		res, err := f.svc.UploadScreenshot(ctx, "STU-1", domain.PaymentMethodUPI, first)
		firstDone <- outcome{res, err}
	}()
	<-gate.parked

	res, err := f.svc.UploadScreenshot(context.Background(), "STU-1", domain.PaymentMethodUPI, second)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBBBBBB", res.TransactionID)

	close(gate.release)
	got := <-firstDone
	assert.Nil(t, got.res)
	var exErr *domain.ExtractionError
	require.ErrorAs(t, got.err, &exErr)
	assert.Equal(t, domain.ExtractionSuperseded, exErr.Reason)

	held, ok := holder.Get("STU-1")
	require.True(t, ok)
	assert.Same(t, second, held)
	assert.True(t, first.Released())
	assert.Equal(t, ocr.StateIdle, f.svc.ScreenshotStatus("STU-1"))
}

func TestSubmit_ValidationErrorTouchesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), domain.DraftInput{
		StudentID: "STU-1",
		Method:    domain.PaymentMethodUPI,
		Amount:    decimal.NewFromInt(5000),
	}, "")
	assert.ErrorIs(t, err, domain.ErrTransactionIDRequired)
	assert.Empty(t, f.drafts.drafts)
	assert.Empty(t, f.outbox.messages)
}

func TestSubmit_StoreRejectionEchoesDraft(t *testing.T) {
	f := newFixture(t)
	f.drafts.createErr = &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.Submit(context.Background(), domain.DraftInput{
		StudentID:     "STU-1",
		Method:        domain.PaymentMethodBankTransfer,
		Amount:        decimal.NewFromInt(12000),
		TransactionID: "HDFC00012345678",
		Notes:         "February rent",
	}, "req-1")

	var subErr *domain.SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, domain.SubmissionRejected, subErr.Kind)
	require.NotNil(t, subErr.Draft)
	assert.Empty(t, subErr.Draft.ID)
	assert.Equal(t, "HDFC00012345678", *subErr.Draft.TransactionID)
	assert.Equal(t, "February rent", *subErr.Draft.Notes)

	// The lease is released so the echoed draft can be resubmitted.
	release, err := f.guard.Acquire(context.Background(), "STU-1:req-1")
	require.NoError(t, err)
	release()
}

func TestSubmit_InFlightDuplicateRejected(t *testing.T) {
	f := newFixture(t)
	in := domain.DraftInput{StudentID: "STU-1", Method: domain.PaymentMethodCash, Amount: decimal.NewFromInt(4500)}

	release, err := f.guard.Acquire(context.Background(), guard.SubmitKey("STU-1", "", domain.PaymentMethodCash, "4500", ""))
	require.NoError(t, err)
	defer release()

	_, err = f.svc.Submit(context.Background(), in, "")
	assert.ErrorIs(t, err, domain.ErrSubmissionInFlight)
}

func TestRejectThenConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	ack, err := f.svc.Submit(ctx, domain.DraftInput{StudentID: "STU-2", Method: domain.PaymentMethodCash, Amount: decimal.NewFromInt(4500)}, "")
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	rejected, err := f.svc.Reject(ctx, ack.DraftID, " cash not received ")
	require.NoError(t, err)
	assert.Equal(t, domain.DraftStatusRejected, rejected.Status)
	assert.Equal(t, "cash not received", *rejected.AdminNotes)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err = f.svc.Confirm(ctx, ack.DraftID)
	assert.ErrorIs(t, err, domain.ErrAlreadyRejected)
	var conflict *domain.StateConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, domain.DraftStatusConfirmed, conflict.Target)
	assert.Empty(t, f.ledger.entries)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	annotated, err := f.svc.Annotate(ctx, ack.DraftID, "student informed")
	require.NoError(t, err)
	assert.Equal(t, "cash not received\nstudent informed", *annotated.AdminNotes)
	assert.Equal(t, domain.DraftStatusRejected, annotated.Status)
}

func TestConfirm_UnknownDraft(t *testing.T) {
	f := newFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	_, err := f.svc.Confirm(context.Background(), "6f1c2a9e-4b7d-4c1e-9a53-0d2b8e7f1a44")
	assert.ErrorIs(t, err, domain.ErrDraftNotFound)
}

func TestReview_MalformedDraftIDIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"not-a-uuid", "d-1", "", "1; DROP TABLE payment_drafts"} {
		_, err := f.svc.GetDraft(ctx, id)
		assert.ErrorIs(t, err, domain.ErrDraftNotFound, "get %q", id)
		_, err = f.svc.Confirm(ctx, id)
		assert.ErrorIs(t, err, domain.ErrDraftNotFound, "confirm %q", id)
		_, err = f.svc.Reject(ctx, id, "no such payment")
		assert.ErrorIs(t, err, domain.ErrDraftNotFound, "reject %q", id)
		_, err = f.svc.Annotate(ctx, id, "checked")
		assert.ErrorIs(t, err, domain.ErrDraftNotFound, "annotate %q", id)
	}
	assert.Empty(t, f.ledger.entries)
}

func TestAnnotate_BlankNote(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Annotate(context.Background(), "d-1", "   ")
	assert.ErrorIs(t, err, domain.ErrNoteRequired)
}

func TestListDrafts_UnknownStatus(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ListDrafts(context.Background(), "archived", 10)
	assert.ErrorIs(t, err, domain.ErrUnknownStatus)
}

func TestClassifySubmissionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.SubmissionKind
	}{
		{"unique violation", &pq.Error{Code: "23505"}, domain.SubmissionRejected},
		{"invalid numeric", &pq.Error{Code: "22003"}, domain.SubmissionRejected},
		{"connection failure", &pq.Error{Code: "08006"}, domain.SubmissionNetwork},
		{"admin shutdown", &pq.Error{Code: "57P01"}, domain.SubmissionNetwork},
		{"syntax error", &pq.Error{Code: "42601"}, domain.SubmissionUnknown},
		{"deadline", context.DeadlineExceeded, domain.SubmissionNetwork},
		{"dial error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, domain.SubmissionNetwork},
		{"anything else", errors.New("boom"), domain.SubmissionUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifySubmissionError(tt.err))
		})
	}
}
