package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "perm:cache:version"

// Cache stores resolved permission sets in Redis. Invalidation bumps a
// shared version counter instead of deleting keys, so stale entries simply
// age out under their TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a Cache. A nil client yields a no-op cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Key composes the cache key for a resolution scope with the current version.
func (c *Cache) Key(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID) (string, error) {
	scope := "global"
	if projectID != nil {
		scope = projectID.String()
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("perm:eff:%d:%s:%s", ver, userID, scope), nil
}

// Get returns the cached set for the scope, or nil on a miss.
func (c *Cache) Get(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID) (*PermissionSet, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	key, err := c.Key(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var set PermissionSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// Set stores the resolved set for the scope.
func (c *Cache) Set(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID, set PermissionSet) error {
	if c == nil || c.client == nil {
		return nil
	}
	key, err := c.Key(ctx, userID, projectID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Invalidate bumps the version counter so every cached set becomes
// unreachable. Called after any template, override or grant write.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
