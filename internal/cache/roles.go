package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sunder-social/sunder-api/internal/metrics"
	"github.com/sunder-social/sunder-api/internal/models"
	"github.com/sunder-social/sunder-api/internal/moderation"
	"github.com/sunder-social/sunder-api/pkg/logger"
	"go.uber.org/zap"
)

const rolesCacheName = "roles"

// KV is the subset of redis.Cmdable the role cache needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RoleCache is a moderation.FlagStore that caches role badges in Redis.
// Moderation flags are never cached: they gate posting and visibility and
// must be read from the store at the time of the operation.
type RoleCache struct {
	next    moderation.FlagStore
	kv      KV
	ttl     time.Duration
	metrics *metrics.Metrics
}

var _ moderation.FlagStore = (*RoleCache)(nil)

// NewRoleCache wraps next with a role cache backed by kv.
func NewRoleCache(next moderation.FlagStore, kv KV, ttl time.Duration, m *metrics.Metrics) *RoleCache {
	return &RoleCache{next: next, kv: kv, ttl: ttl, metrics: m}
}

func roleKey(userID uuid.UUID) string {
	return "sunder:roles:" + userID.String()
}

// GetModerationFlags always reads through to the underlying store.
func (c *RoleCache) GetModerationFlags(ctx context.Context, userID uuid.UUID) (models.ModerationFlags, error) {
	return c.next.GetModerationFlags(ctx, userID)
}

// GetUserRoles returns cached roles, loading and caching them on a miss.
// Redis failures fall back to the underlying store.
func (c *RoleCache) GetUserRoles(ctx context.Context, userID uuid.UUID) ([]models.Role, error) {
	key := roleKey(userID)

	raw, err := c.kv.Get(ctx, key).Bytes()
	if err == nil {
		var roles []models.Role
		if jsonErr := json.Unmarshal(raw, &roles); jsonErr == nil {
			c.metrics.CacheHit(rolesCacheName)
			return roles, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logger.Log.Warn("Role cache read failed", zap.String("key", key), zap.Error(err))
	}
	c.metrics.CacheMiss(rolesCacheName)

	roles, err := c.next.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}

	if roles == nil {
		roles = []models.Role{}
	}
	body, err := json.Marshal(roles)
	if err == nil {
		if setErr := c.kv.Set(ctx, key, body, c.ttl).Err(); setErr != nil {
			logger.Log.Warn("Role cache write failed", zap.String("key", key), zap.Error(setErr))
		}
	}
	return roles, nil
}

// Invalidate drops the cached roles for userID.
func (c *RoleCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return c.kv.Del(ctx, roleKey(userID)).Err()
}
