package ocr

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"hostelpay/internal/domain"
	"hostelpay/internal/txnid"
)

type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
)

// Result is the outcome of one successful extraction. TransactionID is empty
// when no rule matched.
type Result struct {
	Text          string
	TransactionID string
	Rule          string
}

type run struct {
	gen    uint64
	cancel context.CancelFunc
}

// Extractor runs at most one extraction per session key. Starting a new one
// cancels the previous run, which then reports ExtractionSuperseded.
type Extractor struct {
	recognizer Recognizer
	language   string
	timeout    time.Duration
	logger     *zap.Logger

	mu   sync.Mutex
	gen  uint64
	runs map[string]*run
}

// NewExtractor returns an Extractor. A nil recognizer makes every extraction
// fail with ExtractionUnavailable.
func NewExtractor(recognizer Recognizer, language string, timeout time.Duration, logger *zap.Logger) *Extractor {
	if language == "" {
		language = "eng"
	}
	return &Extractor{
		recognizer: recognizer,
		language:   language,
		timeout:    timeout,
		logger:     logger,
		runs:       make(map[string]*run),
	}
}

func (e *Extractor) Status(key string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.runs[key]; ok {
		return StateProcessing
	}
	return StateIdle
}

// Ticket is a reserved place in a session's extraction order. Reserving a
// ticket cancels any run for the same key that was reserved earlier.
type Ticket struct {
	key string
	gen uint64
	ctx context.Context
}

// Reserve fixes the order of an upload. Callers that must pair the order with
// other per-session state reserve under their own lock and run later.
func (e *Extractor) Reserve(ctx context.Context, key string) *Ticket {
	runCtx, gen := e.begin(ctx, key)
	return &Ticket{key: key, gen: gen, ctx: runCtx}
}

// Abandon gives up a ticket without running it.
func (e *Extractor) Abandon(t *Ticket) {
	e.finish(t.key, t.gen)
}

func (e *Extractor) Extract(ctx context.Context, key string, image []byte) (*Result, error) {
	return e.Run(e.Reserve(ctx, key), image)
}

// Run recognizes image for a reserved ticket. Only the newest ticket for a
// key may report a result; older ones fail with ExtractionSuperseded.
func (e *Extractor) Run(t *Ticket, image []byte) (*Result, error) {
	key := t.key
	if e.recognizer == nil {
		if !e.finish(key, t.gen) {
			return nil, &domain.ExtractionError{Reason: domain.ExtractionSuperseded}
		}
		return nil, &domain.ExtractionError{Reason: domain.ExtractionUnavailable}
	}

	var text string
	err := t.ctx.Err()
	if err == nil {
		text, err = e.recognizer.Recognize(t.ctx, image, e.language)
	}
	runErr := t.ctx.Err()
	current := e.finish(key, t.gen)

	if !current {
		e.logger.Info("Extraction superseded by a newer upload", zap.String("session", key))
		return nil, &domain.ExtractionError{Reason: domain.ExtractionSuperseded, Err: err}
	}
	if err != nil {
		if errors.Is(runErr, context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("Extraction timed out", zap.String("session", key), zap.Duration("timeout", e.timeout))
			return nil, &domain.ExtractionError{Reason: domain.ExtractionTimeout, Err: err}
		}
		e.logger.Warn("Extraction failed", zap.String("session", key), zap.Error(err))
		return nil, &domain.ExtractionError{Reason: domain.ExtractionFailed, Err: err}
	}

	res := &Result{Text: text}
	if id, rule, ok := txnid.FindWithRule(text); ok {
		res.TransactionID = id
		res.Rule = rule
		e.logger.Info("Transaction id extracted", zap.String("session", key), zap.String("rule", rule))
	} else {
		e.logger.Info("No transaction id found in extracted text", zap.String("session", key))
	}
	return res, nil
}

func (e *Extractor) begin(ctx context.Context, key string) (context.Context, uint64) {
	var runCtx context.Context
	var cancel context.CancelFunc
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.runs[key]; ok {
		prev.cancel()
	}
	e.gen++
	e.runs[key] = &run{gen: e.gen, cancel: cancel}
	return runCtx, e.gen
}

// finish reports whether gen is still the newest run for key.
func (e *Extractor) finish(key string, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, ok := e.runs[key]
	if !ok || cur.gen != gen {
		return false
	}
	cur.cancel()
	delete(e.runs, key)
	return true
}
