package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPendingReview = "curator:dash:pending_review"
	cacheKeyHierarchy     = "curator:dash:hierarchy"
)

// dashboardCache is a read-through redis cache for dashboard payloads.
// A nil client disables caching; every method degrades to a miss.
type dashboardCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func newDashboardCache(rdb *redis.Client, ttl time.Duration) *dashboardCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &dashboardCache{rdb: rdb, ttl: ttl}
}

func (c *dashboardCache) get(ctx context.Context, key string, dest interface{}) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), dest) == nil
}

func (c *dashboardCache) set(ctx context.Context, key string, v interface{}) {
	if c == nil || c.rdb == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, key, data, c.ttl).Err()
}

// invalidate drops dashboard keys after a structural or status mutation so
// the next read reflects it without waiting out the TTL.
func (c *dashboardCache) invalidate(ctx context.Context) {
	if c == nil || c.rdb == nil {
		return
	}
	_ = c.rdb.Del(ctx, cacheKeyPendingReview, cacheKeyHierarchy).Err()
}
