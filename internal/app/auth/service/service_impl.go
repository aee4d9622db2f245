package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/Zydiag/learn-backend/internal/adapters/transport/http/dto"
	"github.com/Zydiag/learn-backend/internal/app/auth/password"
	"github.com/Zydiag/learn-backend/internal/app/media"
	customErrors "github.com/Zydiag/learn-backend/internal/domain/user/errors"
	"github.com/Zydiag/learn-backend/internal/domain/user/model"
	"github.com/Zydiag/learn-backend/internal/domain/user/repo"
	"github.com/Zydiag/learn-backend/internal/domain/user/token"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Service interface {
	Register(ctx context.Context, dto dto.RegisterDTO) (model.PublicUser, error)
	Login(ctx context.Context, dto dto.LoginDTO) (model.TokenPair, model.PublicUser, error)
	Validate(ctx context.Context, accessToken string) (model.User, token.AccessClaims, error)
	Refresh(ctx context.Context, presentedRefreshToken string) (model.TokenPair, error)
	Logout(ctx context.Context, userID uuid.UUID, accessJTI string, accessExp time.Time) error
	ChangePassword(ctx context.Context, userID uuid.UUID, dto dto.ChangePasswordDTO) error
	UpdateAccount(ctx context.Context, userID uuid.UUID, dto dto.UpdateAccountDTO) (model.PublicUser, error)
	UpdateAvatar(ctx context.Context, userID uuid.UUID, localPath string) (model.PublicUser, error)
	UpdateCoverImage(ctx context.Context, userID uuid.UUID, localPath string) (model.PublicUser, error)
}

type authService struct {
	userRepo  repo.UserRepo
	tokenRepo repo.TokenRepo
	jwtUtil   token.JWTUtil
	hasher    *password.Hasher
	uploader  media.Uploader
	v         *validator.Validate
}

func New(
	ur repo.UserRepo,
	tr repo.TokenRepo,
	jm token.JWTUtil,
	hasher *password.Hasher,
	uploader media.Uploader,
	v *validator.Validate,
) Service {
	return &authService{
		userRepo: ur, tokenRepo: tr, jwtUtil: jm,
		hasher: hasher, uploader: uploader, v: v,
	}
}

// hashToken is what actually gets persisted for a refresh token: the
// database never holds a replayable credential.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (a *authService) Register(ctx context.Context, in dto.RegisterDTO) (model.PublicUser, error) {
	if err := a.v.Struct(in); err != nil {
		return model.PublicUser{}, customErrors.NewInvalidArgument(err.Error())
	}

	// Существование проверяем до загрузки файлов, чтобы дубликат не
	// оставлял осиротевшие объекты в бакете. Уникальный индекс ниже
	// остаётся страховкой от гонки.
	username := strings.ToLower(in.Username)
	if _, err := a.userRepo.GetUserByUsername(ctx, username); err == nil {
		return model.PublicUser{}, customErrors.ErrAlreadyExists
	} else if !errors.Is(err, customErrors.ErrNotFound) {
		return model.PublicUser{}, customErrors.WrapInternal(err, "Register")
	}
	if _, err := a.userRepo.GetUserByEmail(ctx, in.Email); err == nil {
		return model.PublicUser{}, customErrors.ErrAlreadyExists
	} else if !errors.Is(err, customErrors.ErrNotFound) {
		return model.PublicUser{}, customErrors.WrapInternal(err, "Register")
	}

	avatarURL, err := a.uploader.Upload(ctx, in.AvatarLocalPath)
	if err != nil {
		return model.PublicUser{}, customErrors.WrapInternal(err, "upload avatar")
	}

	coverURL := ""
	if in.CoverImageLocalPath != "" {
		if coverURL, err = a.uploader.Upload(ctx, in.CoverImageLocalPath); err != nil {
			return model.PublicUser{}, customErrors.WrapInternal(err, "upload cover image")
		}
	}

	passwordHash, err := a.hasher.Hash(in.Password)
	if err != nil {
		return model.PublicUser{}, err
	}

	user := model.User{
		ID:            uuid.New(),
		Username:      username,
		Email:         in.Email,
		FullName:      in.FullName,
		AvatarURL:     avatarURL,
		CoverImageURL: coverURL,
		PasswordHash:  passwordHash,
	}
	if _, err = a.userRepo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, customErrors.ErrAlreadyExists) {
			return model.PublicUser{}, customErrors.ErrAlreadyExists
		}
		return model.PublicUser{}, customErrors.WrapInternal(err, "Register")
	}

	return user.Public(), nil
}

func (a *authService) Login(ctx context.Context, in dto.LoginDTO) (model.TokenPair, model.PublicUser, error) {
	if err := a.v.Struct(in); err != nil {
		return model.TokenPair{}, model.PublicUser{}, customErrors.NewInvalidArgument(err.Error())
	}
	if in.Username == "" && in.Email == "" {
		return model.TokenPair{}, model.PublicUser{}, customErrors.NewInvalidArgument("username or email is required")
	}

	user, err := a.findByIdentifier(ctx, in.Username, in.Email)
	switch {
	case errors.Is(err, customErrors.ErrNotFound):
		// Indistinguishable from a wrong password so the response
		// cannot be used to enumerate accounts.
		return model.TokenPair{}, model.PublicUser{}, customErrors.ErrInvalidCredentials
	case err != nil:
		return model.TokenPair{}, model.PublicUser{}, customErrors.WrapInternal(err, "Login")
	}

	if !a.hasher.Verify(in.Password, user.PasswordHash) {
		return model.TokenPair{}, model.PublicUser{}, customErrors.ErrInvalidCredentials
	}

	pair, rtHash, err := a.mintPair(user.ID)
	if err != nil {
		return model.TokenPair{}, model.PublicUser{}, err
	}

	// Overwrite any previous chain; the pair is returned only after the
	// hash is persisted.
	if err := a.userRepo.SetRefreshTokenHash(ctx, user.ID, rtHash); err != nil {
		return model.TokenPair{}, model.PublicUser{}, customErrors.WrapInternal(err, "StoreRefresh")
	}

	return pair, user.Public(), nil
}

func (a *authService) findByIdentifier(ctx context.Context, username, email string) (model.User, error) {
	if email != "" {
		user, err := a.userRepo.GetUserByEmail(ctx, email)
		if err == nil || !errors.Is(err, customErrors.ErrNotFound) {
			return user, err
		}
	}
	if username != "" {
		return a.userRepo.GetUserByUsername(ctx, strings.ToLower(username))
	}
	return model.User{}, customErrors.ErrNotFound
}

func (a *authService) Validate(ctx context.Context, accessToken string) (model.User, token.AccessClaims, error) {
	claims, err := a.jwtUtil.ValidateAccessToken(accessToken)
	if err != nil {
		return model.User{}, token.AccessClaims{}, err
	}

	revoked, err := a.tokenRepo.IsAccessRevoked(ctx, claims.ID)
	if err != nil {
		return model.User{}, token.AccessClaims{}, customErrors.WrapInternal(err, "Validate")
	}
	if revoked {
		return model.User{}, token.AccessClaims{}, customErrors.ErrInvalidToken
	}

	uid, err := uuid.Parse(claims.Subject)
	if err != nil {
		return model.User{}, token.AccessClaims{}, customErrors.ErrInvalidToken
	}

	user, err := a.userRepo.GetUserByID(ctx, uid)
	if err != nil {
		return model.User{}, token.AccessClaims{}, customErrors.ErrInvalidToken
	}

	return user, claims, nil
}

func (a *authService) Refresh(ctx context.Context, presented string) (model.TokenPair, error) {
	if presented == "" {
		return model.TokenPair{}, customErrors.ErrUnauthenticated
	}

	claims, err := a.jwtUtil.ValidateRefreshToken(presented)
	if err != nil {
		return model.TokenPair{}, err
	}

	uid, err := uuid.Parse(claims.Subject)
	if err != nil {
		return model.TokenPair{}, customErrors.ErrInvalidToken
	}

	user, err := a.userRepo.GetUserByID(ctx, uid)
	if err != nil {
		return model.TokenPair{}, customErrors.ErrInvalidToken
	}

	presentedHash := hashToken(presented)
	if user.RefreshTokenHash == "" || user.RefreshTokenHash != presentedHash {
		// Signature is fine but the chain moved on: this token was already
		// rotated away (or the user logged out). Likely replay.
		return model.TokenPair{}, customErrors.ErrTokenReuse
	}

	pair, rtHash, err := a.mintPair(user.ID)
	if err != nil {
		return model.TokenPair{}, err
	}

	// Compare-and-swap: of two concurrent refreshes with the same token
	// exactly one lands, the other reads back ErrTokenReuse.
	if err := a.userRepo.RotateRefreshTokenHash(ctx, user.ID, presentedHash, rtHash); err != nil {
		if errors.Is(err, customErrors.ErrTokenReuse) {
			return model.TokenPair{}, customErrors.ErrTokenReuse
		}
		return model.TokenPair{}, customErrors.WrapInternal(err, "RotateRefresh")
	}

	return pair, nil
}

func (a *authService) Logout(ctx context.Context, userID uuid.UUID, accessJTI string, accessExp time.Time) error {
	// Idempotent: clearing an already-empty hash is a no-op.
	if err := a.userRepo.SetRefreshTokenHash(ctx, userID, ""); err != nil {
		return customErrors.WrapInternal(err, "Logout")
	}

	if accessJTI != "" {
		if err := a.tokenRepo.RevokeAccess(ctx, accessJTI, accessExp); err != nil {
			return customErrors.WrapInternal(err, "RevokeAccess")
		}
	}
	return nil
}

func (a *authService) ChangePassword(ctx context.Context, userID uuid.UUID, in dto.ChangePasswordDTO) error {
	if err := a.v.Struct(in); err != nil {
		return customErrors.NewInvalidArgument(err.Error())
	}

	user, err := a.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if !a.hasher.Verify(in.OldPassword, user.PasswordHash) {
		return customErrors.ErrInvalidCredentials
	}

	newHash, err := a.hasher.Hash(in.NewPassword)
	if err != nil {
		return err
	}

	user.PasswordHash = newHash
	if err := a.userRepo.UpdateUser(ctx, user); err != nil {
		return customErrors.WrapInternal(err, "ChangePassword")
	}
	return nil
}

func (a *authService) UpdateAccount(ctx context.Context, userID uuid.UUID, in dto.UpdateAccountDTO) (model.PublicUser, error) {
	if err := a.v.Struct(in); err != nil {
		return model.PublicUser{}, customErrors.NewInvalidArgument(err.Error())
	}

	user, err := a.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return model.PublicUser{}, err
	}

	user.FullName = in.FullName
	user.Email = in.Email
	if err := a.userRepo.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, customErrors.ErrAlreadyExists) {
			return model.PublicUser{}, customErrors.ErrAlreadyExists
		}
		return model.PublicUser{}, customErrors.WrapInternal(err, "UpdateAccount")
	}
	return user.Public(), nil
}

func (a *authService) UpdateAvatar(ctx context.Context, userID uuid.UUID, localPath string) (model.PublicUser, error) {
	return a.updateImage(ctx, userID, localPath, func(u *model.User, url string) {
		u.AvatarURL = url
	})
}

func (a *authService) UpdateCoverImage(ctx context.Context, userID uuid.UUID, localPath string) (model.PublicUser, error) {
	return a.updateImage(ctx, userID, localPath, func(u *model.User, url string) {
		u.CoverImageURL = url
	})
}

func (a *authService) updateImage(ctx context.Context, userID uuid.UUID, localPath string, set func(*model.User, string)) (model.PublicUser, error) {
	if localPath == "" {
		return model.PublicUser{}, customErrors.NewInvalidArgument("image file is required")
	}

	url, err := a.uploader.Upload(ctx, localPath)
	if err != nil {
		return model.PublicUser{}, customErrors.WrapInternal(err, "upload image")
	}

	user, err := a.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return model.PublicUser{}, err
	}

	set(&user, url)
	if err := a.userRepo.UpdateUser(ctx, user); err != nil {
		return model.PublicUser{}, customErrors.WrapInternal(err, "update image")
	}
	return user.Public(), nil
}

func (a *authService) mintPair(uid uuid.UUID) (model.TokenPair, string, error) {
	at, atExp, atJTI, err := a.jwtUtil.GenerateAccessToken(uid)
	if err != nil {
		return model.TokenPair{}, "", customErrors.WrapInternal(err, "GenerateAccessToken")
	}
	rt, rtExp, _, err := a.jwtUtil.GenerateRefreshToken(uid)
	if err != nil {
		return model.TokenPair{}, "", customErrors.WrapInternal(err, "GenerateRefreshToken")
	}

	now := time.Now()
	return model.TokenPair{
		AccessToken:  at,
		RefreshToken: rt,
		AccessTTL:    atExp.Sub(now),
		RefreshTTL:   rtExp.Sub(now),
		UserId:       uid,
		AccessJTI:    atJTI,
	}, hashToken(rt), nil
}
