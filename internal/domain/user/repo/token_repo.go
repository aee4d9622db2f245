package repo

import (
	"context"
	"time"
)

// TokenRepo is the denylist for access tokens revoked before their
// natural expiry (logout). Keys live only until expiresAt.
type TokenRepo interface {
	RevokeAccess(ctx context.Context, jti string, expiresAt time.Time) error

	IsAccessRevoked(ctx context.Context, jti string) (bool, error)
}
