// Package intake validates uploaded payment screenshots and holds them only as
// long as text extraction needs them.
package intake

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"strings"
	"sync"
	"time"

	"hostelpay/internal/domain"
)

const DefaultMaxBytes int64 = 5 << 20

// Image is an accepted screenshot. Bytes and preview are dropped by Release.
type Image struct {
	ContentType string
	Size        int64

	mu       sync.Mutex
	data     []byte
	preview  string
	released bool
}

// Accept validates the declared media type and size, then reads the image.
// The declared size is checked before anything is read from r.
func Accept(declaredType string, declaredSize int64, r io.Reader, maxBytes int64) (*Image, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	contentType, ok := imageMediaType(declaredType)
	if !ok {
		return nil, domain.ErrInvalidType
	}
	if declaredSize > maxBytes {
		return nil, domain.ErrTooLarge
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if n > maxBytes {
		return nil, domain.ErrTooLarge
	}
	if n == 0 {
		return nil, domain.ErrInvalidType
	}

	data := buf.Bytes()
	return &Image{
		ContentType: contentType,
		Size:        n,
		data:        data,
		preview:     "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data),
	}, nil
}

func imageMediaType(declared string) (string, bool) {
	if declared == "" {
		return "", false
	}
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "", false
	}
	mediaType = strings.ToLower(mediaType)
	if !strings.HasPrefix(mediaType, "image/") || mediaType == "image/" {
		return "", false
	}
	return mediaType, true
}

// Bytes returns the raw image, or nil after Release.
func (i *Image) Bytes() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.data
}

// Preview returns a data URL for display, or "" after Release.
func (i *Image) Preview() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.preview
}

func (i *Image) Released() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.released
}

func (i *Image) Release() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return
	}
	clear(i.data)
	i.data = nil
	i.preview = ""
	i.released = true
}

// Holder keeps at most one image per session key.
type Holder struct {
	mu     sync.Mutex
	images map[string]*Image
}

func NewHolder() *Holder {
	return &Holder{images: make(map[string]*Image)}
}

// Install releases the image previously held for key before storing img.
func (h *Holder) Install(key string, img *Image) {
	h.mu.Lock()
	prev := h.images[key]
	h.images[key] = img
	h.mu.Unlock()

	if prev != nil && prev != img {
		prev.Release()
	}
}

func (h *Holder) Get(key string) (*Image, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	img, ok := h.images[key]
	return img, ok
}

// Release drops img if it is still the one held for key.
func (h *Holder) Release(key string, img *Image) {
	h.mu.Lock()
	if cur, ok := h.images[key]; ok && cur == img {
		delete(h.images, key)
	}
	h.mu.Unlock()
	img.Release()
}

// ReleaseAfter schedules Release. A zero or negative delay releases immediately.
func (h *Holder) ReleaseAfter(key string, img *Image, delay time.Duration) {
	if delay <= 0 {
		h.Release(key, img)
		return
	}
	time.AfterFunc(delay, func() { h.Release(key, img) })
}

func (h *Holder) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.images)
}
