package payments

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"hostelpay/internal/domain"
	"hostelpay/internal/intake"
	"hostelpay/internal/notify"
	"hostelpay/internal/ocr"
)

// UploadResult is what the payer sees after a screenshot upload. Extracted is
// false when no extraction ran; Failure is set when one ran and failed.
type UploadResult struct {
	Method        domain.PaymentMethod
	Preview       string
	Extracted     bool
	TransactionID string
	Rule          string
	Text          string
	Failure       domain.ExtractionReason
}

func (s *paymentService) UploadScreenshot(ctx context.Context, sessionKey string, method domain.PaymentMethod, img *intake.Image) (*UploadResult, error) {
	res := &UploadResult{Method: method, Preview: img.Preview()}

	// The copy is taken before Install so a newer upload releasing img cannot
	// empty it. Reserve and Install share one lock so the held image and the
	// extraction order agree on which upload is newest.
	var data []byte
	if method == domain.PaymentMethodUPI {
		data = bytes.Clone(img.Bytes())
	}
	s.uploadMu.Lock()
	ticket := s.extractor.Reserve(ctx, sessionKey)
	s.images.Install(sessionKey, img)
	s.uploadMu.Unlock()

	if method != domain.PaymentMethodUPI {
		s.extractor.Abandon(ticket)
		s.images.ReleaseAfter(sessionKey, img, s.retention)
		return res, nil
	}

	s.notifier.Notify(ctx, notify.Info("Processing Image", "Extracting text from screenshot..."))
	extracted, err := s.extractor.Run(ticket, data)
	s.images.ReleaseAfter(sessionKey, img, s.retention)

	if err != nil {
		var exErr *domain.ExtractionError
		if !errors.As(err, &exErr) {
			return nil, fmt.Errorf("unexpected extraction error: %w", err)
		}
		if exErr.Reason == domain.ExtractionSuperseded {
			return nil, err
		}
		s.logger.Warn("Screenshot text extraction failed",
			zap.String("session", sessionKey),
			zap.String("reason", string(exErr.Reason)),
			zap.Error(err))
		s.notifier.Notify(ctx, notify.Error("OCR Failed", "Could not extract text from image. Please enter the transaction ID manually."))
		res.Failure = exErr.Reason
		return res, nil
	}

	res.Extracted = true
	res.Text = extracted.Text
	res.TransactionID = extracted.TransactionID
	res.Rule = extracted.Rule
	if extracted.TransactionID != "" {
		s.notifier.Notify(ctx, notify.Success("Transaction ID Extracted", "Found transaction ID: "+extracted.TransactionID))
	} else {
		s.notifier.Notify(ctx, notify.Info("No Transaction ID Found", "Please enter the transaction ID manually."))
	}
	return res, nil
}

func (s *paymentService) ScreenshotStatus(sessionKey string) ocr.State {
	return s.extractor.Status(sessionKey)
}
