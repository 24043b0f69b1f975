package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "rbac:version"

// Cache stores effective permission sets in Redis keyed by a global version
// and a per-user counter, so a single bump invalidates every entry and an
// invalidation drops one user's.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) || (err == nil && ver <= 0) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Stamp identifies the cache generation a permission set was loaded under:
// the global version plus the user's own invalidation counter.
type Stamp struct {
	Global int64
	User   int64
}

func userVersionKey(tenantID, userID uuid.UUID) string {
	return strings.Join([]string{"rbac", "uver", tenantID.String(), userID.String()}, ":")
}

// Stamp reads the current generation for one user. Capture it before loading
// from the store and pass it to Set, so a bump or invalidation that lands
// during the load leaves the loaded set under a key no reader will use.
func (c *Cache) Stamp(ctx context.Context, tenantID, userID uuid.UUID) (Stamp, error) {
	if !c.enabled() {
		return Stamp{}, nil
	}
	global, err := c.Version(ctx)
	if err != nil {
		return Stamp{}, err
	}
	user, err := c.client.Get(ctx, userVersionKey(tenantID, userID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Stamp{}, err
	}
	return Stamp{Global: global, User: user}, nil
}

func (c *Cache) key(stamp Stamp, tenantID, userID uuid.UUID) string {
	return fmt.Sprintf("%s:%d:%d", strings.Join([]string{"rbac", "perms", tenantID.String(), userID.String()}, ":"), stamp.Global, stamp.User)
}

// Get returns the set cached under stamp and whether it was present.
func (c *Cache) Get(ctx context.Context, stamp Stamp, tenantID, userID uuid.UUID) (UserPermissions, bool, error) {
	if !c.enabled() {
		return UserPermissions{}, false, nil
	}
	payload, err := c.client.Get(ctx, c.key(stamp, tenantID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return UserPermissions{}, false, nil
	}
	if err != nil {
		return UserPermissions{}, false, err
	}
	var out UserPermissions
	if err := json.Unmarshal(payload, &out); err != nil {
		return UserPermissions{}, false, err
	}
	return out, true, nil
}

// Set stores a permission set under the stamp captured before it was loaded.
func (c *Cache) Set(ctx context.Context, stamp Stamp, perms UserPermissions) error {
	if !c.enabled() {
		return nil
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(stamp, perms.TenantID, perms.UserID), raw, c.ttl).Err()
}

// Invalidate advances the user's counter, orphaning every entry of that user
// including one an in-flight load is about to write. The counter outlives
// any entry keyed by an earlier value.
func (c *Cache) Invalidate(ctx context.Context, tenantID, userID uuid.UUID) error {
	if !c.enabled() {
		return nil
	}
	key := userVersionKey(tenantID, userID)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.PExpire(ctx, key, 2*c.ttl+time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

// Bump invalidates every entry by incrementing the global version.
func (c *Cache) Bump(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
