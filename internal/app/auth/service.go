package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hostelpay/internal/auth"
	"hostelpay/internal/domain"
	"hostelpay/internal/repository/users_repo"
	"hostelpay/internal/util"
)

type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Session   auth.Session
}

type AuthService interface {
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	EnsureAdmin(ctx context.Context, email, passwordHash string) error
}

type authService struct {
	db       *sql.DB
	userRepo users_repo.UserRepository
	tokens   *auth.TokenManager
	logger   *zap.Logger
}

func NewAuthService(db *sql.DB, userRepo users_repo.UserRepository, tokens *auth.TokenManager, logger *zap.Logger) AuthService {
	return &authService{
		db:       db,
		userRepo: userRepo,
		tokens:   tokens,
		logger:   logger,
	}
}

func (s *authService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.userRepo.GetByEmail(ctx, s.db, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.logger.Warn("Login attempt for unknown email")
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !auth.CheckPassword(user.PasswordHash, password) {
		s.logger.Warn("Login attempt with wrong password", zap.String("user_id", user.ID))
		return nil, domain.ErrInvalidCredentials
	}

	session := auth.Session{
		UserID:     user.ID,
		Role:       user.Role,
		StudentID:  user.StudentID,
		RoomNumber: user.RoomNumber,
	}
	token, expiresAt, err := s.tokens.Issue(session)
	if err != nil {
		return nil, err
	}

	s.logger.Info("User logged in", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return &LoginResult{Token: token, ExpiresAt: expiresAt, Session: session}, nil
}

// EnsureAdmin creates the bootstrap admin or refreshes its password hash.
func (s *authService) EnsureAdmin(ctx context.Context, email, passwordHash string) error {
	err := s.userRepo.Upsert(ctx, s.db, &domain.User{
		ID:           util.GenerateUUID(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         domain.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to ensure admin user: %w", err)
	}
	s.logger.Info("Bootstrap admin ensured", zap.String("email", email))
	return nil
}
