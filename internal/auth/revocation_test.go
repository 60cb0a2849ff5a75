package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-consult-chat/internal/domain"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisRevocations_RevokeAndExpire(t *testing.T) {
	mr, rdb := newRedis(t)
	rl := NewRedisRevocations(rdb, "consult")
	ctx := context.Background()

	revoked, err := rl.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, rl.Revoke(ctx, "jti-1", time.Minute))
	assert.True(t, mr.Exists("consult:revoked:jti-1"), "key should use the configured prefix")

	revoked, err = rl.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(2 * time.Minute)
	revoked, err = rl.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked, "revocation should lapse with the token")
}

func TestRedisRevocations_WithVerifier(t *testing.T) {
	_, rdb := newRedis(t)
	rl := NewRedisRevocations(rdb, "consult")
	v := NewJWTVerifier(JWTOptions{Secret: testSecret, Revocations: rl})
	ctx := context.Background()

	tok, _, err := IssueToken(testSecret, domain.Participant{Role: domain.RoleDoctor, ID: 7}, time.Hour, "", "jti-2")
	require.NoError(t, err)

	_, err = v.Verify(ctx, tok)
	require.NoError(t, err)

	require.NoError(t, rl.Revoke(ctx, "jti-2", time.Hour))
	_, err = v.Verify(ctx, tok)
	assert.ErrorIs(t, err, ErrRevokedCredential)
}

func TestRedisRevocations_BackendDown(t *testing.T) {
	mr, rdb := newRedis(t)
	rl := NewRedisRevocations(rdb, "consult")
	mr.Close()

	_, err := rl.IsRevoked(context.Background(), "jti-3")
	assert.Error(t, err)
}
