package repo

import (
	"context"

	"github.com/Zydiag/learn-backend/internal/domain/user/model"
	"github.com/google/uuid"
)

type UserRepo interface {
	CreateUser(ctx context.Context, u model.User) (uuid.UUID, error)

	GetUserByID(ctx context.Context, id uuid.UUID) (model.User, error)

	GetUserByEmail(ctx context.Context, email string) (model.User, error)

	GetUserByUsername(ctx context.Context, username string) (model.User, error)

	UpdateUser(ctx context.Context, u model.User) error

	// SetRefreshTokenHash overwrites the stored hash unconditionally
	// (login issues a fresh chain, logout passes "").
	SetRefreshTokenHash(ctx context.Context, id uuid.UUID, hash string) error

	// RotateRefreshTokenHash swaps oldHash for newHash atomically.
	// Returns ErrTokenReuse when the stored value is no longer oldHash,
	// which is how a replayed refresh token is detected under concurrency.
	RotateRefreshTokenHash(ctx context.Context, id uuid.UUID, oldHash, newHash string) error
}
