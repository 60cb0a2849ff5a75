package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRevocations is a revocation list kept in Redis: one key per revoked
// token id, expiring together with the token.
type RedisRevocations struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisRevocations stores keys as "<prefix>:revoked:<jti>".
func NewRedisRevocations(rdb redis.Cmdable, prefix string) *RedisRevocations {
	return &RedisRevocations{rdb: rdb, prefix: prefix + ":revoked:"}
}

// IsRevoked implements RevocationChecker.
func (r *RedisRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.prefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Revoke marks tokenID as revoked for ttl (normally the token's remaining
// lifetime).
func (r *RedisRevocations) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.prefix+tokenID, 1, ttl).Err()
}
