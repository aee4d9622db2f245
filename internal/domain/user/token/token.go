package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type AccessClaims struct {
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	jwt.RegisteredClaims
}

type JWTUtil interface {
	GenerateAccessToken(userID uuid.UUID) (token string, exp time.Time, jti string, err error)
	GenerateRefreshToken(userID uuid.UUID) (token string, exp time.Time, jti string, err error)
	ValidateAccessToken(token string) (claims AccessClaims, err error)
	ValidateRefreshToken(token string) (claims RefreshClaims, err error)
}
