package permission

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	userID := uuid.New()
	projectID := uuid.New()

	set := PermissionSet{Menu: []string{"menu.ops"}, Project: []string{"project_access"}}.Normalize()
	require.NoError(t, cache.Set(ctx, userID, &projectID, set))

	got, err := cache.Get(ctx, userID, &projectID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, set, *got)

	// The global scope is a distinct entry.
	miss, err := cache.Get(ctx, userID, nil)
	require.NoError(t, err)
	require.Nil(t, miss)
}

func TestCacheInvalidateBumpsVersion(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, cache.Set(ctx, userID, nil, PermissionSet{Menu: []string{"menu.a"}}))

	before, err := cache.Version(ctx)
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(ctx))

	after, err := cache.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, before+1, after)

	got, err := cache.Get(ctx, userID, nil)
	require.NoError(t, err)
	require.Nil(t, got, "entries under the old version are unreachable")
}

func TestNilCacheIsNoop(t *testing.T) {
	var cache *Cache
	ctx := context.Background()
	userID := uuid.New()

	got, err := cache.Get(ctx, userID, nil)
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, cache.Set(ctx, userID, nil, PermissionSet{}))
	require.NoError(t, cache.Invalidate(ctx))
}
