package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTokenRepo keeps the jtis of access tokens revoked by logout.
// Keys expire together with the token itself, so the set stays small.
type RedisTokenRepo struct {
	client *redis.Client
}

func NewRedisTokenRepo(client *redis.Client) *RedisTokenRepo {
	return &RedisTokenRepo{
		client: client,
	}
}

func (r *RedisTokenRepo) RevokeAccess(ctx context.Context, jti string, exp time.Time) error {
	return r.client.Set(ctx, "a:"+jti, 1, safeTTL(exp)).Err()
}

func (r *RedisTokenRepo) IsAccessRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, "a:"+jti).Result()
	return n > 0, err
}

func safeTTL(exp time.Time) time.Duration {
	ttl := time.Until(exp)
	if ttl <= 0 {
		// минимальный TTL, чтобы ключ всё-таки исчез
		return time.Hour
	}
	return ttl
}
