package users_repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"hostelpay/internal/domain"
)

type userRepository struct{}

func NewUserRepository() *userRepository {
	return &userRepository{}
}

func (r *userRepository) GetByEmail(ctx context.Context, querier domain.Querier, email string) (*domain.User, error) {
	query := `
		SELECT id, email, password_hash, role, student_id, room_number, created_at
		FROM users
		WHERE email = $1
	`
	var (
		u          domain.User
		studentID  sql.NullString
		roomNumber sql.NullString
	)
	err := querier.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(email))).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&studentID,
		&roomNumber,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	u.StudentID = studentID.String
	u.RoomNumber = roomNumber.String
	return &u, nil
}

// Upsert inserts user or, when the email exists, replaces its hash and role.
func (r *userRepository) Upsert(ctx context.Context, querier domain.Querier, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, role, student_id, room_number, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
		ON CONFLICT (email) DO UPDATE
		SET password_hash = EXCLUDED.password_hash, role = EXCLUDED.role
	`
	_, err := querier.ExecContext(ctx, query,
		user.ID,
		strings.ToLower(strings.TrimSpace(user.Email)),
		user.PasswordHash,
		user.Role,
		user.StudentID,
		user.RoomNumber,
		user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", user.Email, err)
	}
	return nil
}
