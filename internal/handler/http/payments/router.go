package payments_http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"hostelpay/internal/app/payments"
	"hostelpay/internal/auth"
	"hostelpay/internal/domain"
	"hostelpay/internal/feed"
	middleware_http "hostelpay/internal/handler/http/middleware"
)

type RouteConfig struct {
	Tokens        *auth.TokenManager
	Hub           *feed.Hub
	Validate      *validator.Validate
	MaxImageBytes int64
	// RequestTimeout bounds every route except the event stream.
	RequestTimeout time.Duration
}

func RegisterRoutes(r chi.Router, s payments.PaymentService, cfg RouteConfig, l *zap.Logger) {
	logger := l.With(zap.String("component", "PaymentHTTPHandler"))
	handler := NewPaymentHandler(s, cfg.Validate, cfg.MaxImageBytes, logger)
	stream := NewStreamHandler(cfg.Hub, l.With(zap.String("component", "DraftStream")))
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("hostelpay is healthy"))
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware_http.Authenticate(cfg.Tokens, logger))

		r.Route("/api/student/payments", func(r chi.Router) {
			r.Use(middleware_http.RequireRole(domain.RoleStudent, logger))
			r.Use(middleware.Timeout(timeout))
			r.Post("/screenshot", handler.UploadScreenshotHandler)
			r.Get("/screenshot/status", handler.ScreenshotStatusHandler)
			r.Post("/", handler.SubmitPaymentHandler)
			r.Get("/", handler.HistoryHandler)
		})

		r.Route("/api/admin/drafts", func(r chi.Router) {
			r.Use(middleware_http.RequireRole(domain.RoleAdmin, logger))
			r.Get("/stream", stream.ServeHTTP)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(timeout))
				r.Get("/", handler.ListDraftsHandler)
				r.Get("/{id}", handler.GetDraftHandler)
				r.Post("/{id}/confirm", handler.ConfirmDraftHandler)
				r.Post("/{id}/reject", handler.RejectDraftHandler)
				r.Patch("/{id}/notes", handler.AnnotateDraftHandler)
			})
		})
	})
}
