package auth_http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	authapp "hostelpay/internal/app/auth"
	"hostelpay/internal/handler/http/response"
)

type AuthHandler struct {
	service  authapp.AuthService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewAuthHandler(s authapp.AuthService, v *validator.Validate, l *zap.Logger) *AuthHandler {
	return &AuthHandler{service: s, validate: v, logger: l}
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	Role       string    `json:"role"`
	StudentID  string    `json:"student_id,omitempty"`
	RoomNumber string    `json:"room_number,omitempty"`
}

func (h *AuthHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid login request body", zap.Error(err))
		response.BadRequest(w, r, h.logger, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, r, h.logger, "email and password are required")
		return
	}

	res, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		response.Error(w, r, h.logger, err, nil)
		return
	}

	response.JSON(w, r, h.logger, http.StatusOK, LoginResponse{
		Token:      res.Token,
		ExpiresAt:  res.ExpiresAt,
		Role:       string(res.Session.Role),
		StudentID:  res.Session.StudentID,
		RoomNumber: res.Session.RoomNumber,
	})
}

func RegisterRoutes(r chi.Router, s authapp.AuthService, v *validator.Validate, l *zap.Logger) {
	handler := NewAuthHandler(s, v, l.With(zap.String("component", "AuthHTTPHandler")))

	r.Post("/api/auth/login", handler.LoginHandler)
}
