// Package auth holds the login session that gates the student and admin APIs.
package auth

import (
	"context"

	"hostelpay/internal/domain"
)

// Session is the authenticated caller of a request.
type Session struct {
	UserID     string
	Role       domain.Role
	StudentID  string
	RoomNumber string
}

// Key identifies the caller for per-session state such as a held screenshot.
func (s Session) Key() string {
	if s.StudentID != "" {
		return s.StudentID
	}
	return s.UserID
}

type sessionKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
