package jwt

import (
	"errors"
	"time"

	customErrors "github.com/Zydiag/learn-backend/internal/domain/user/errors"
	"github.com/Zydiag/learn-backend/internal/domain/user/token"
	"github.com/Zydiag/learn-backend/internal/infra/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type JwtUtilImpl struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	audience      string
}

// NewJWTUtil builds the token issuer. Access and refresh tokens are
// signed with distinct secrets so leaking one does not compromise the
// other class.
func NewJWTUtil(cfg *config.Config) (*JwtUtilImpl, error) {
	if cfg.AccessTokenSecret == "" || cfg.RefreshTokenSecret == "" {
		return nil, customErrors.NewInvalidArgument("token secrets are required")
	}
	if cfg.AccessTokenSecret == cfg.RefreshTokenSecret {
		return nil, customErrors.NewInvalidArgument("token secrets must differ")
	}

	return &JwtUtilImpl{
		accessSecret:  []byte(cfg.AccessTokenSecret),
		refreshSecret: []byte(cfg.RefreshTokenSecret),
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
	}, nil
}

func (j *JwtUtilImpl) GenerateAccessToken(userID uuid.UUID) (string, time.Time, string, error) {
	jti := uuid.NewString()
	now := time.Now()

	claims := token.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    j.issuer,
			Audience:  jwt.ClaimStrings{j.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.accessTTL)),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.accessSecret)
	if err != nil {
		return "", time.Time{}, "", customErrors.WrapInternal(err, "sign access token")
	}

	return signed, claims.ExpiresAt.Time, jti, nil
}

func (j *JwtUtilImpl) GenerateRefreshToken(userID uuid.UUID) (string, time.Time, string, error) {
	jti := uuid.NewString()
	now := time.Now()

	claims := token.RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    j.issuer,
			Audience:  jwt.ClaimStrings{j.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.refreshTTL)),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.refreshSecret)
	if err != nil {
		return "", time.Time{}, "", customErrors.WrapInternal(err, "sign refresh token")
	}

	return signed, claims.ExpiresAt.Time, jti, nil
}

func (j *JwtUtilImpl) ValidateAccessToken(raw string) (token.AccessClaims, error) {
	claims := &token.AccessClaims{}
	if err := j.validate(raw, claims, j.accessSecret); err != nil {
		return token.AccessClaims{}, err
	}
	return *claims, nil
}

func (j *JwtUtilImpl) ValidateRefreshToken(raw string) (token.RefreshClaims, error) {
	claims := &token.RefreshClaims{}
	if err := j.validate(raw, claims, j.refreshSecret); err != nil {
		return token.RefreshClaims{}, err
	}
	return *claims, nil
}

func (j *JwtUtilImpl) validate(raw string, claims jwt.Claims, secret []byte) error {
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, customErrors.ErrTokenMalformed
		}
		return secret, nil
	}, jwt.WithIssuedAt(), jwt.WithLeeway(2*time.Minute))

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return customErrors.ErrTokenExpired
	case err != nil, !parsed.Valid:
		return customErrors.ErrTokenMalformed
	}

	reg, err := extractRegistered(claims)
	if err != nil {
		return err
	}

	if j.issuer != "" && reg.Issuer != j.issuer {
		return customErrors.ErrTokenMalformed
	}

	if j.audience != "" {
		okAudi := false
		for _, a := range reg.Audience {
			if a == j.audience {
				okAudi = true
				break
			}
		}
		if !okAudi {
			return customErrors.ErrTokenMalformed
		}
	}

	return nil
}

func extractRegistered(claims jwt.Claims) (jwt.RegisteredClaims, error) {
	switch c := claims.(type) {
	case *token.AccessClaims:
		return c.RegisteredClaims, nil
	case *token.RefreshClaims:
		return c.RegisteredClaims, nil
	default:
		return jwt.RegisteredClaims{}, customErrors.WrapInternal(
			errors.New("unexpected claims type"), "validate token")
	}
}
