package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Zydiag/learn-backend/internal/adapters/transport/http/dto"
	"github.com/Zydiag/learn-backend/internal/app/auth/jwt"
	"github.com/Zydiag/learn-backend/internal/app/auth/password"
	appsvc "github.com/Zydiag/learn-backend/internal/app/auth/service"
	customErrors "github.com/Zydiag/learn-backend/internal/domain/user/errors"
	"github.com/Zydiag/learn-backend/internal/domain/user/model"
	"github.com/Zydiag/learn-backend/internal/infra/config"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

/* ──────────────────────────────── stubs ──────────────────────────────── */

type userRepoStub struct {
	mu    sync.Mutex
	users map[uuid.UUID]model.User
}

func newUserRepoStub() *userRepoStub {
	return &userRepoStub{users: make(map[uuid.UUID]model.User)}
}

func (u *userRepoStub) CreateUser(_ context.Context, m model.User) (uuid.UUID, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, v := range u.users {
		if v.Username == m.Username || v.Email == m.Email {
			return uuid.Nil, customErrors.ErrAlreadyExists
		}
	}
	u.users[m.ID] = m
	return m.ID, nil
}

func (u *userRepoStub) GetUserByID(_ context.Context, id uuid.UUID) (model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	v, ok := u.users[id]
	if !ok {
		return model.User{}, customErrors.ErrNotFound
	}
	return v, nil
}

func (u *userRepoStub) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, v := range u.users {
		if v.Email == email {
			return v, nil
		}
	}
	return model.User{}, customErrors.ErrNotFound
}

func (u *userRepoStub) GetUserByUsername(_ context.Context, username string) (model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, v := range u.users {
		if v.Username == username {
			return v, nil
		}
	}
	return model.User{}, customErrors.ErrNotFound
}

func (u *userRepoStub) UpdateUser(_ context.Context, m model.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	cur, ok := u.users[m.ID]
	if !ok {
		return customErrors.ErrNotFound
	}
	// профильные поля; refresh_token_hash меняют только Set/Rotate
	m.RefreshTokenHash = cur.RefreshTokenHash
	u.users[m.ID] = m
	return nil
}

func (u *userRepoStub) SetRefreshTokenHash(_ context.Context, id uuid.UUID, hash string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	v, ok := u.users[id]
	if !ok {
		return customErrors.ErrNotFound
	}
	v.RefreshTokenHash = hash
	u.users[id] = v
	return nil
}

func (u *userRepoStub) RotateRefreshTokenHash(_ context.Context, id uuid.UUID, oldHash, newHash string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	v, ok := u.users[id]
	if !ok || v.RefreshTokenHash != oldHash {
		return customErrors.ErrTokenReuse
	}
	v.RefreshTokenHash = newHash
	u.users[id] = v
	return nil
}

type tokenRepoStub struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func newTokenRepoStub() *tokenRepoStub {
	return &tokenRepoStub{revoked: make(map[string]bool)}
}

func (t *tokenRepoStub) RevokeAccess(_ context.Context, jti string, _ time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.revoked[jti] = true
	return nil
}

func (t *tokenRepoStub) IsAccessRevoked(_ context.Context, jti string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.revoked[jti], nil
}

type uploaderStub struct{ fail bool }

func (u uploaderStub) Upload(_ context.Context, localPath string) (string, error) {
	if u.fail {
		return "", errors.New("upload failed")
	}
	return "https://cdn.test/" + localPath, nil
}

type countingUploaderStub struct{ calls atomic.Int32 }

func (u *countingUploaderStub) Upload(_ context.Context, localPath string) (string, error) {
	u.calls.Add(1)
	return "https://cdn.test/" + localPath, nil
}

type errUserRepoStub struct{ *userRepoStub }

func (errUserRepoStub) SetRefreshTokenHash(_ context.Context, _ uuid.UUID, _ string) error {
	return errors.New("store down")
}

/* ───────────────────────────── helpers ───────────────────────────── */

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("strongpwd", func(fl validator.FieldLevel) bool {
		return password.IsStrong(fl.Field().String())
	})
	return v
}

func newSvc(t *testing.T) (appsvc.Service, *userRepoStub, *tokenRepoStub) {
	t.Helper()

	ur := newUserRepoStub()
	tr := newTokenRepoStub()

	util, err := jwt.NewJWTUtil(&config.Config{
		AccessTokenSecret:  "access-secret",
		RefreshTokenSecret: "refresh-secret",
		AccessTokenTTL:     time.Minute,
		RefreshTokenTTL:    time.Hour,
		Issuer:             "test",
		Audience:           "test",
	})
	require.NoError(t, err)

	svc := appsvc.New(ur, tr, util, password.NewHasher("pepper"), uploaderStub{}, newValidator())
	return svc, ur, tr
}

func registerAlice(t *testing.T, svc appsvc.Service) model.PublicUser {
	t.Helper()
	user, err := svc.Register(context.Background(), dto.RegisterDTO{
		Username:        "Alice",
		Email:           "alice@x.com",
		Password:        "Secret123",
		AvatarLocalPath: "avatar.png",
	})
	require.NoError(t, err)
	return user
}

/* ───────────────────────────── tests ───────────────────────────── */

func TestAuthService_RegisterLogin(t *testing.T) {
	svc, ur, _ := newSvc(t)
	ctx := context.Background()

	created := registerAlice(t, svc)
	require.Equal(t, "alice", created.Username) // case-normalized
	require.NotEmpty(t, created.AvatarURL)

	pair, user, err := svc.Login(ctx, dto.LoginDTO{Username: "alice", Password: "Secret123"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, "alice", user.Username)

	// stored hash must correspond to the token that was just returned
	stored, err := ur.GetUserByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.RefreshTokenHash)
	require.NotEqual(t, pair.RefreshToken, stored.RefreshTokenHash)
}

func TestAuthService_RegisterDoesNotSanitizeLeak(t *testing.T) {
	svc, ur, _ := newSvc(t)
	created := registerAlice(t, svc)

	stored, err := ur.GetUserByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotEqual(t, "Secret123", stored.PasswordHash)
	// the public view carries neither credential field; compile-time shape
	// plus this sanity check on the hash is all we can assert here
	require.NotContains(t, stored.PasswordHash, "Secret123")
}

func TestAuthService_RegisterInvalid(t *testing.T) {
	svc, _, _ := newSvc(t)
	_, err := svc.Register(context.Background(), dto.RegisterDTO{})
	require.Error(t, err)
	require.True(t, customErrors.IsInvalidArgument(err))
}

func TestAuthService_RegisterWeakPassword(t *testing.T) {
	svc, _, _ := newSvc(t)
	_, err := svc.Register(context.Background(), dto.RegisterDTO{
		Username: "bob", Email: "bob@x.com", Password: "weak", AvatarLocalPath: "a.png",
	})
	require.Error(t, err)
	require.True(t, customErrors.IsInvalidArgument(err))
}

func TestAuthService_RegisterDuplicate(t *testing.T) {
	svc, _, _ := newSvc(t)
	registerAlice(t, svc)

	_, err := svc.Register(context.Background(), dto.RegisterDTO{
		Username: "alice", Email: "other@x.com", Password: "Secret123", AvatarLocalPath: "a.png",
	})
	require.True(t, customErrors.IsAlreadyExists(err))

	_, err = svc.Register(context.Background(), dto.RegisterDTO{
		Username: "bob", Email: "alice@x.com", Password: "Secret123", AvatarLocalPath: "a.png",
	})
	require.True(t, customErrors.IsAlreadyExists(err))
}

func TestAuthService_RegisterDuplicateDoesNotUpload(t *testing.T) {
	ur := newUserRepoStub()
	util, _ := jwt.NewJWTUtil(&config.Config{
		AccessTokenSecret: "a", RefreshTokenSecret: "r",
		AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour,
	})
	hasher := password.NewHasher("pepper")

	seed := appsvc.New(ur, newTokenRepoStub(), util, hasher, uploaderStub{}, newValidator())
	_, err := seed.Register(context.Background(), dto.RegisterDTO{
		Username: "alice", Email: "alice@x.com", Password: "Secret123", AvatarLocalPath: "a.png",
	})
	require.NoError(t, err)

	// дубликат отсекается до загрузки, иначе в бакете копятся сироты
	up := &countingUploaderStub{}
	svc := appsvc.New(ur, newTokenRepoStub(), util, hasher, up, newValidator())
	_, err = svc.Register(context.Background(), dto.RegisterDTO{
		Username: "Alice", Email: "other@x.com", Password: "Secret123", AvatarLocalPath: "a.png",
	})
	require.True(t, customErrors.IsAlreadyExists(err))
	require.Zero(t, up.calls.Load())
}

func TestAuthService_RegisterUploadFails(t *testing.T) {
	ur := newUserRepoStub()
	util, _ := jwt.NewJWTUtil(&config.Config{
		AccessTokenSecret: "a", RefreshTokenSecret: "r",
		AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour,
	})
	svc := appsvc.New(ur, newTokenRepoStub(), util, password.NewHasher("pepper"), uploaderStub{fail: true}, newValidator())

	_, err := svc.Register(context.Background(), dto.RegisterDTO{
		Username: "bob", Email: "bob@x.com", Password: "Secret123", AvatarLocalPath: "a.png",
	})
	require.Error(t, err)
	require.True(t, customErrors.IsInternal(err))
	require.Empty(t, ur.users)
}

func TestAuthService_LoginByEmail(t *testing.T) {
	svc, _, _ := newSvc(t)
	registerAlice(t, svc)

	_, user, err := svc.Login(context.Background(), dto.LoginDTO{Email: "alice@x.com", Password: "Secret123"})
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)
}

func TestAuthService_LoginBothIdentifiersMissing(t *testing.T) {
	svc, _, _ := newSvc(t)
	_, _, err := svc.Login(context.Background(), dto.LoginDTO{Password: "Secret123"})
	require.Error(t, err)
	require.True(t, customErrors.IsInvalidArgument(err))
}

func TestAuthService_LoginInvalidPassword(t *testing.T) {
	svc, _, _ := newSvc(t)
	registerAlice(t, svc)

	_, _, err := svc.Login(context.Background(), dto.LoginDTO{Username: "alice", Password: "wrongpass"})
	require.Error(t, err)
	require.True(t, customErrors.IsInvalidCredentials(err))
}

func TestAuthService_LoginUserNotFound(t *testing.T) {
	svc, _, _ := newSvc(t)
	registerAlice(t, svc)

	_, _, err := svc.Login(context.Background(), dto.LoginDTO{Username: "nosuch", Password: "Secret123"})
	require.Error(t, err)
	// unknown identifier must be indistinguishable from a wrong password
	require.True(t, customErrors.IsInvalidCredentials(err))
	require.False(t, customErrors.IsNotFound(err))
}

func TestAuthService_ValidateAndRefresh(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	created := registerAlice(t, svc)
	pair, _, err := svc.Login(ctx, dto.LoginDTO{Username: "alice", Password: "Secret123"})
	require.NoError(t, err)

	user, claims, err := svc.Validate(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, created.ID, user.ID)
	require.Equal(t, pair.AccessJTI, claims.ID)

	refreshed, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, refreshed.RefreshToken)

	// первый токен уже ротирован — повторное использование это replay
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
	require.True(t, customErrors.IsTokenReuse(err))

	// the new token continues the chain
	_, err = svc.Refresh(ctx, refreshed.RefreshToken)
	require.NoError(t, err)
}

func TestAuthService_RefreshMissing(t *testing.T) {
	svc, _, _ := newSvc(t)
	_, err := svc.Refresh(context.Background(), "")
	require.Error(t, err)
	require.True(t, customErrors.IsUnauthenticated(err))
}

func TestAuthService_RefreshMalformed(t *testing.T) {
	svc, _, _ := newSvc(t)
	_, err := svc.Refresh(context.Background(), "bad")
	require.Error(t, err)
	require.True(t, customErrors.IsInvalidToken(err))
}

func TestAuthService_RefreshAccessTokenRejected(t *testing.T) {
	svc, _, _ := newSvc(t)
	registerAlice(t, svc)
	pair, _, err := svc.Login(context.Background(), dto.LoginDTO{Username: "alice", Password: "Secret123"})
	require.NoError(t, err)

	// an access token must never pass as a refresh token
	_, err = svc.Refresh(context.Background(), pair.AccessToken)
	require.Error(t, err)
	require.True(t, customErrors.IsInvalidToken(err))
}

func TestAuthService_RefreshUserGone(t *testing.T) {
	svc, ur, _ := newSvc(t)
	created := registerAlice(t, svc)
	pair, _, err := svc.Login(context.Background(), dto.LoginDTO{Username: "alice", Password: "Secret123"})
	require.NoError(t, err)

	ur.mu.Lock()
	delete(ur.users, created.ID)
	ur.mu.Unlock()

	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	require.Error(t, err)
	require.True(t, customErrors.IsInvalidToken(err))
}

func TestAuthService_LogoutThenRefresh(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	created := registerAlice(t, svc)
	pair, _, err := svc.Login(ctx, dto.LoginDTO{Username: "alice", Password: "Secret123"})
	require.NoError(t, err)

	_, claims, err := svc.Validate(ctx, pair.AccessToken)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, created.ID, claims.ID, claims.ExpiresAt.Time))

	// refresh with the pre-logout token must fail
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
	require.True(t, customErrors.IsTokenReuse(err))

	// the revoked access token no longer authenticates
	_, _, err = svc.Validate(ctx, pair.AccessToken)
	require.Error(t, err)
	require.True(t, customErrors.IsInvalidToken(err))

	// logout is idempotent
	require.NoError(t, svc.Logout(ctx, created.ID, "", time.Time{}))
}

func TestAuthService_ChangePassword(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()
	created := registerAlice(t, svc)

	err := svc.ChangePassword(ctx, created.ID, dto.ChangePasswordDTO{
		OldPassword: "wrongpass", NewPassword: "Newpass456",
	})
	require.True(t, customErrors.IsInvalidCredentials(err))

	err = svc.ChangePassword(ctx, created.ID, dto.ChangePasswordDTO{
		OldPassword: "Secret123", NewPassword: "weak",
	})
	require.True(t, customErrors.IsInvalidArgument(err))

	require.NoError(t, svc.ChangePassword(ctx, created.ID, dto.ChangePasswordDTO{
		OldPassword: "Secret123", NewPassword: "Newpass456",
	}))

	_, _, err = svc.Login(ctx, dto.LoginDTO{Username: "alice", Password: "Secret123"})
	require.True(t, customErrors.IsInvalidCredentials(err))

	_, _, err = svc.Login(ctx, dto.LoginDTO{Username: "alice", Password: "Newpass456"})
	require.NoError(t, err)
}

func TestAuthService_UpdateAccount(t *testing.T) {
	svc, _, _ := newSvc(t)
	created := registerAlice(t, svc)

	updated, err := svc.UpdateAccount(context.Background(), created.ID, dto.UpdateAccountDTO{
		FullName: "Alice Doe", Email: "alice.doe@x.com",
	})
	require.NoError(t, err)
	require.Equal(t, "Alice Doe", updated.FullName)
	require.Equal(t, "alice.doe@x.com", updated.Email)
}

func TestAuthService_ProfileUpdateKeepsSession(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()
	created := registerAlice(t, svc)

	pair, _, err := svc.Login(ctx, dto.LoginDTO{Username: "alice", Password: "Secret123"})
	require.NoError(t, err)
	rotated, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	_, err = svc.UpdateAccount(ctx, created.ID, dto.UpdateAccountDTO{
		FullName: "Alice Doe", Email: "alice.doe@x.com",
	})
	require.NoError(t, err)

	// апдейт профиля не воскрешает уже ротированный refresh
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.True(t, customErrors.IsTokenReuse(err))

	_, err = svc.Refresh(ctx, rotated.RefreshToken)
	require.NoError(t, err)
}

func TestAuthService_UpdateAvatar(t *testing.T) {
	svc, _, _ := newSvc(t)
	created := registerAlice(t, svc)

	updated, err := svc.UpdateAvatar(context.Background(), created.ID, "new-avatar.png")
	require.NoError(t, err)
	require.Contains(t, updated.AvatarURL, "new-avatar.png")

	_, err = svc.UpdateAvatar(context.Background(), created.ID, "")
	require.True(t, customErrors.IsInvalidArgument(err))
}

func TestAuthService_LoginStoreFailureReturnsNoTokens(t *testing.T) {
	ur := newUserRepoStub()
	util, _ := jwt.NewJWTUtil(&config.Config{
		AccessTokenSecret: "a", RefreshTokenSecret: "r",
		AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour,
	})
	hasher := password.NewHasher("pepper")

	seed := appsvc.New(ur, newTokenRepoStub(), util, hasher, uploaderStub{}, newValidator())
	_, err := seed.Register(context.Background(), dto.RegisterDTO{
		Username: "alice", Email: "alice@x.com", Password: "Secret123", AvatarLocalPath: "a.png",
	})
	require.NoError(t, err)

	svc := appsvc.New(errUserRepoStub{ur}, newTokenRepoStub(), util, hasher, uploaderStub{}, newValidator())
	pair, _, err := svc.Login(context.Background(), dto.LoginDTO{Username: "alice", Password: "Secret123"})
	require.Error(t, err)
	require.True(t, customErrors.IsInternal(err))
	require.Empty(t, pair.AccessToken)
	require.Empty(t, pair.RefreshToken)
}

func TestAuthService_ConcurrentRefreshSingleWinner(t *testing.T) {
	svc, _, _ := newSvc(t)
	ctx := context.Background()

	registerAlice(t, svc)
	pair, _, err := svc.Login(ctx, dto.LoginDTO{Username: "alice", Password: "Secret123"})
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Refresh(ctx, pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			require.True(t, customErrors.IsTokenReuse(err), "loser must see reuse, got %v", err)
		}
	}
	require.Equal(t, 1, winners, "exactly one concurrent refresh may win")
}
