package assignment

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestNextCacheEpochIsMonotonic(t *testing.T) {
	client, _ := newTestRedisClient(t)
	ctx := context.Background()

	first, err := NextCacheEpoch(ctx, client)
	require.NoError(t, err)
	second, err := NextCacheEpoch(ctx, client)
	require.NoError(t, err)
	require.Greater(t, second, first)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	client, _ := newTestRedisClient(t)
	cache := NewRedisCache(client, time.Minute, 1, slog.Default())
	ctx := context.Background()
	userA := uuid.New()
	userB := uuid.New()

	roles := []uuid.UUID{uuid.New(), uuid.New()}
	cache.Set(ctx, 3, userA, roles)

	got, ok := cache.Get(ctx, 3, userA)
	require.True(t, ok)
	require.Equal(t, roles, got)

	_, ok = cache.Get(ctx, 3, userB)
	require.False(t, ok)
	_, ok = cache.Get(ctx, 4, userA)
	require.False(t, ok)
}

func TestRedisCacheSweepBelow(t *testing.T) {
	client, mr := newTestRedisClient(t)
	cache := NewRedisCache(client, time.Minute, 1, slog.Default())
	ctx := context.Background()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	cache.Set(ctx, 1, a, []uuid.UUID{uuid.New()})
	cache.Set(ctx, 2, b, []uuid.UUID{uuid.New()})
	cache.Set(ctx, 5, c, []uuid.UUID{uuid.New()})

	removed, err := cache.SweepBelow(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	require.False(t, mr.Exists(cache.key(1, a)))
	require.False(t, mr.Exists(cache.key(2, b)))
	require.True(t, mr.Exists(cache.key(5, c)))
}

func TestRedisCacheSweepDropsSupersededEpochs(t *testing.T) {
	client, mr := newTestRedisClient(t)
	ctx := context.Background()
	user := uuid.New()

	old := NewRedisCache(client, time.Minute, 1, slog.Default())
	old.Set(ctx, 9, user, []uuid.UUID{uuid.New()})
	current := NewRedisCache(client, time.Minute, 2, slog.Default())
	current.Set(ctx, 9, user, []uuid.UUID{uuid.New()})

	// The stale boot's entry goes even though its version is high enough.
	sweeper := NewRedisCache(client, time.Minute, 0, slog.Default())
	removed, err := sweeper.SweepBelow(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.False(t, mr.Exists(old.key(9, user)))
	require.True(t, mr.Exists(current.key(9, user)))
}

func TestRedisCacheMaxVersion(t *testing.T) {
	client, _ := newTestRedisClient(t)
	ctx := context.Background()

	sweeper := NewRedisCache(client, time.Minute, 0, slog.Default())
	max, err := sweeper.MaxVersion(ctx)
	require.NoError(t, err)
	require.Zero(t, max)

	old := NewRedisCache(client, time.Minute, 1, slog.Default())
	old.Set(ctx, 7, uuid.New(), []uuid.UUID{uuid.New()})
	current := NewRedisCache(client, time.Minute, 2, slog.Default())
	current.Set(ctx, 2, uuid.New(), []uuid.UUID{uuid.New()})

	// Only the newest epoch counts; a stale boot's high-water mark is
	// meaningless for the running process.
	max, err = sweeper.MaxVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), max)
}

func TestRestartDoesNotServeRevokedRoles(t *testing.T) {
	client, _ := newTestRedisClient(t)
	ctx := context.Background()
	user := uuid.New()
	role := uuid.New()

	// First boot: the user holds a role, resolution lands in redis under
	// snapshot version 1.
	epoch1, err := NextCacheEpoch(ctx, client)
	require.NoError(t, err)
	boot1 := NewRedisCache(client, time.Minute, epoch1, slog.Default())
	boot1.Set(ctx, 1, user, []uuid.UUID{role})

	// The role is revoked and the process restarts: the rebuilt stores no
	// longer carry the assignment, and the new snapshot counter is back at
	// version 1.
	epoch2, err := NextCacheEpoch(ctx, client)
	require.NoError(t, err)
	boot2 := NewRedisCache(client, time.Minute, epoch2, slog.Default())
	resolver := NewResolver(false, 16, boot2)
	snap := &fakeSnapshot{
		version: 1,
		users:   map[uuid.UUID]bool{user: true},
		roles:   map[uuid.UUID][]uuid.UUID{},
	}

	roles, err := resolver.EffectiveRoles(ctx, user, snap)
	require.NoError(t, err)
	require.Empty(t, roles, "a previous boot's cache entry must not resurrect the revoked role")
}
