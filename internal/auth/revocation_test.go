package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joestump/learnhub/internal/auth"
)

func TestMemoryRevocationList(t *testing.T) {
	l := auth.NewMemoryRevocationList()
	ctx := context.Background()

	revoked, err := l.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, l.Revoke(ctx, "jti-1", time.Hour))
	revoked, err = l.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = l.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestMemoryRevocationList_Expires(t *testing.T) {
	l := auth.NewMemoryRevocationList()
	ctx := context.Background()

	require.NoError(t, l.Revoke(ctx, "short", 20*time.Millisecond))
	require.NoError(t, l.Revoke(ctx, "none", 0))

	revoked, err := l.IsRevoked(ctx, "none")
	require.NoError(t, err)
	assert.False(t, revoked, "non-positive ttl is a no-op")

	assert.Eventually(t, func() bool {
		revoked, err := l.IsRevoked(ctx, "short")
		return err == nil && !revoked
	}, time.Second, 10*time.Millisecond)
}
