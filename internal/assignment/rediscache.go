package assignment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// epochKey holds a boot counter that namespaces shared cache entries.
// Snapshot versions restart at 1 in every process, so an entry written by
// an earlier boot (or another replica) must never be readable under a later
// boot's identical version numbers: a role revoked just before a restart
// would otherwise come back from the cache.
const epochKey = "erc:epoch"

// NextCacheEpoch allocates a fresh, process-unique epoch. Call it once at
// boot before building the RedisCache that will write entries.
func NextCacheEpoch(ctx context.Context, client *redis.Client) (uint64, error) {
	n, err := client.Incr(ctx, epochKey).Result()
	if err != nil {
		return 0, fmt.Errorf("assignment: cache epoch: %w", err)
	}
	return uint64(n), nil
}

// RedisCache is a second-level effective-role cache that outlives the local
// LRU. Entries are keyed erc:<epoch>:<version>:<user>; misses and redis
// errors are soft and fall through to a local compute. Pass epoch zero for
// read/sweep-only holders such as the worker.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	epoch  uint64
	logger *slog.Logger
}

// NewRedisCache builds a RedisCache.
func NewRedisCache(client *redis.Client, ttl time.Duration, epoch uint64, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl, epoch: epoch, logger: logger}
}

func (c *RedisCache) key(version uint64, userID uuid.UUID) string {
	return fmt.Sprintf("erc:%d:%d:%s", c.epoch, version, userID)
}

// Get fetches a role set cached by this boot.
func (c *RedisCache) Get(ctx context.Context, version uint64, userID uuid.UUID) ([]uuid.UUID, bool) {
	key := c.key(version, userID)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("resolver cache get", slog.String("key", key), slog.Any("error", err))
		}
		return nil, false
	}
	var roles []uuid.UUID
	if err := json.Unmarshal(raw, &roles); err != nil {
		c.logger.Warn("resolver cache decode", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	return roles, true
}

// Set stores a role set with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, version uint64, userID uuid.UUID, roles []uuid.UUID) {
	raw, err := json.Marshal(roles)
	if err != nil {
		return
	}
	key := c.key(version, userID)
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("resolver cache set", slog.String("key", key), slog.Any("error", err))
	}
}

type cacheEntry struct {
	key     string
	epoch   uint64
	version uint64
}

func (c *RedisCache) scanEntries(ctx context.Context, op string) ([]cacheEntry, error) {
	var (
		cursor  uint64
		entries []cacheEntry
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, "erc:*", 512).Result()
		if err != nil {
			return nil, fmt.Errorf("assignment: %s: %w", op, err)
		}
		for _, key := range keys {
			var epoch, version uint64
			if _, err := fmt.Sscanf(key, "erc:%d:%d:", &epoch, &version); err != nil {
				continue
			}
			entries = append(entries, cacheEntry{key: key, epoch: epoch, version: version})
		}
		cursor = next
		if cursor == 0 {
			return entries, nil
		}
	}
}

// SweepBelow removes entries from superseded epochs entirely, plus entries
// of the newest epoch built against versions older than minVersion.
func (c *RedisCache) SweepBelow(ctx context.Context, minVersion uint64) (int, error) {
	entries, err := c.scanEntries(ctx, "cache sweep")
	if err != nil {
		return 0, err
	}
	var maxEpoch uint64
	for _, e := range entries {
		if e.epoch > maxEpoch {
			maxEpoch = e.epoch
		}
	}
	removed := 0
	for _, e := range entries {
		if e.epoch == maxEpoch && e.version >= minVersion {
			continue
		}
		if err := c.client.Del(ctx, e.key).Err(); err == nil {
			removed++
		}
	}
	return removed, nil
}

// MaxVersion reports the newest snapshot version cached by the newest
// epoch, or zero when the cache is empty.
func (c *RedisCache) MaxVersion(ctx context.Context) (uint64, error) {
	entries, err := c.scanEntries(ctx, "cache max version")
	if err != nil {
		return 0, err
	}
	var maxEpoch, max uint64
	for _, e := range entries {
		if e.epoch > maxEpoch {
			maxEpoch = e.epoch
			max = 0
		}
		if e.epoch == maxEpoch && e.version > max {
			max = e.version
		}
	}
	return max, nil
}

var _ SharedCache = (*RedisCache)(nil)
