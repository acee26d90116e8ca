package middleware_http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"hostelpay/internal/auth"
	"hostelpay/internal/domain"
	"hostelpay/internal/handler/http/response"
	"hostelpay/internal/notify"
)

// RequestLogger writes one structured line per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("HTTP request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// Notices gives every request a collector for user-facing notices.
func Notices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, _ := notify.WithCollector(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate resolves the bearer token into an auth.Session. EventSource
// clients cannot set headers, so an access_token query parameter is accepted
// as well.
func Authenticate(tokens *auth.TokenManager, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				response.JSON(w, r, logger, http.StatusUnauthorized, response.ErrorBody{Error: "missing auth", Code: "unauthorized"})
				return
			}
			session, err := tokens.Parse(raw)
			if err != nil {
				logger.Warn("Rejected request with invalid token", zap.String("path", r.URL.Path))
				response.JSON(w, r, logger, http.StatusUnauthorized, response.ErrorBody{Error: "invalid token", Code: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), session)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

func RequireRole(role domain.Role, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := auth.FromContext(r.Context())
			if !ok || session.Role != role {
				logger.Warn("Forbidden role for route",
					zap.String("path", r.URL.Path),
					zap.String("required", string(role)),
					zap.String("role", string(session.Role)))
				response.JSON(w, r, logger, http.StatusForbidden, response.ErrorBody{Error: "forbidden", Code: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
