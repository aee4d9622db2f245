package postgres

import (
	"context"
	"errors"

	customErrors "github.com/Zydiag/learn-backend/internal/domain/user/errors"
	"github.com/Zydiag/learn-backend/internal/domain/user/model"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"gorm.io/gorm"
)

type PostgresUserRepo struct {
	db *gorm.DB
}

func NewPostgresUserRepo(db *gorm.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func (p *PostgresUserRepo) CreateUser(ctx context.Context, user model.User) (uuid.UUID, error) {
	res := p.db.WithContext(ctx).Create(&user)
	if err := res.Error; err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, customErrors.ErrAlreadyExists
		}
		return uuid.Nil, customErrors.WrapInternal(err, "CreateUser")
	}
	return user.ID, nil
}

func (p *PostgresUserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	return p.getBy(ctx, "id = ?", id)
}

func (p *PostgresUserRepo) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	return p.getBy(ctx, "email = ?", email)
}

func (p *PostgresUserRepo) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	return p.getBy(ctx, "username = ?", username)
}

func (p *PostgresUserRepo) getBy(ctx context.Context, query string, arg interface{}) (model.User, error) {
	var u model.User
	res := p.db.WithContext(ctx).Where(query, arg).First(&u)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return model.User{}, customErrors.ErrNotFound
	}
	if err := res.Error; err != nil {
		return model.User{}, customErrors.WrapInternal(err, "GetUser")
	}
	return u, nil
}

// UpdateUser persists profile fields only. refresh_token_hash is owned by
// SetRefreshTokenHash/RotateRefreshTokenHash: писать его отсюда нельзя,
// иначе устаревший снимок откатит ротацию.
func (p *PostgresUserRepo) UpdateUser(ctx context.Context, user model.User) error {
	res := p.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", user.ID).
		Select("email", "full_name", "avatar_url", "cover_image_url", "password_hash", "updated_at").
		Updates(user)
	if err := res.Error; err != nil {
		if isUniqueViolation(err) {
			return customErrors.ErrAlreadyExists
		}
		return customErrors.WrapInternal(err, "UpdateUser")
	}
	return nil
}

func (p *PostgresUserRepo) SetRefreshTokenHash(ctx context.Context, id uuid.UUID, hash string) error {
	res := p.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Update("refresh_token_hash", hash)
	if err := res.Error; err != nil {
		return customErrors.WrapInternal(err, "SetRefreshTokenHash")
	}
	if res.RowsAffected == 0 {
		return customErrors.ErrNotFound
	}
	return nil
}

// RotateRefreshTokenHash is the compare-and-swap behind refresh rotation.
// The WHERE clause makes the swap atomic in the database, so it stays
// correct with multiple service replicas: ровно один конкурентный
// refresh выигрывает.
func (p *PostgresUserRepo) RotateRefreshTokenHash(ctx context.Context, id uuid.UUID, oldHash, newHash string) error {
	res := p.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ? AND refresh_token_hash = ?", id, oldHash).
		Update("refresh_token_hash", newHash)
	if err := res.Error; err != nil {
		return customErrors.WrapInternal(err, "RotateRefreshTokenHash")
	}
	if res.RowsAffected == 0 {
		return customErrors.ErrTokenReuse
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
