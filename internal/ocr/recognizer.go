// Package ocr turns payment screenshots into text through an external
// recognizer and guesses the transaction id from the result.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Recognizer extracts plain text from an image.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, language string) (string, error)
}

// HTTPRecognizer talks to a tesseract-server compatible endpoint: the image is
// posted as the multipart field "file" with an "options" JSON part.
type HTTPRecognizer struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewHTTPRecognizer(url string, timeout time.Duration, logger *zap.Logger) *HTTPRecognizer {
	return &HTTPRecognizer{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type recognizeOptions struct {
	Languages []string `json:"languages"`
}

type recognizeResponse struct {
	Data struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
	} `json:"data"`
}

func (r *HTTPRecognizer) Recognize(ctx context.Context, image []byte, language string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	opts, err := json.Marshal(recognizeOptions{Languages: []string{language}})
	if err != nil {
		return "", fmt.Errorf("failed to marshal recognizer options: %w", err)
	}
	if err := mw.WriteField("options", string(opts)); err != nil {
		return "", fmt.Errorf("failed to write options field: %w", err)
	}
	part, err := mw.CreateFormFile("file", "screenshot")
	if err != nil {
		return "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("failed to write image part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, &body)
	if err != nil {
		return "", fmt.Errorf("failed to build recognizer request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("recognizer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		r.logger.Warn("Recognizer returned non-OK status",
			zap.Int("status", resp.StatusCode),
			zap.String("body", strings.TrimSpace(string(msg))))
		return "", fmt.Errorf("recognizer returned status %d", resp.StatusCode)
	}

	var out recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode recognizer response: %w", err)
	}
	if out.Data.Stderr != "" {
		r.logger.Debug("Recognizer stderr", zap.String("stderr", out.Data.Stderr))
	}
	return out.Data.Stdout, nil
}
