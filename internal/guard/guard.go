// Package guard keeps a payment draft from being submitted twice at once.
package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"hostelpay/internal/domain"
)

// Guard hands out one lease per key. A second Acquire for a held key fails
// with domain.ErrSubmissionInFlight until the lease is released or expires.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// SubmitKey derives the lease key for a submission. An explicit idempotency key
// wins; otherwise the draft's method, amount and transaction id are hashed.
func SubmitKey(studentID, idempotencyKey string, method domain.PaymentMethod, amount, transactionID string) string {
	if k := strings.TrimSpace(idempotencyKey); k != "" {
		return studentID + ":" + k
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{string(method), amount, strings.TrimSpace(transactionID)}, "|")))
	return studentID + ":" + hex.EncodeToString(sum[:12])
}

type MemoryGuard struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seq  uint64
	held map[string]lease
}

type lease struct {
	id      uint64
	expires time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{ttl: ttl, now: time.Now, held: make(map[string]lease)}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if l, ok := g.held[key]; ok && (g.ttl <= 0 || now.Before(l.expires)) {
		return nil, domain.ErrSubmissionInFlight
	}

	g.seq++
	id := g.seq
	g.held[key] = lease{id: id, expires: now.Add(g.ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if l, ok := g.held[key]; ok && l.id == id {
				delete(g.held, key)
			}
		})
	}, nil
}
