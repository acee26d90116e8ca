package users_repo

import (
	"context"

	"hostelpay/internal/domain"
)

type UserRepository interface {
	GetByEmail(ctx context.Context, querier domain.Querier, email string) (*domain.User, error)
	Upsert(ctx context.Context, querier domain.Querier, user *domain.User) error
}
