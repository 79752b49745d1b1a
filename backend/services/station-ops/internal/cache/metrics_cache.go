// Package cache holds short-lived projections of committed state: capacity metrics and the
// active sessions view.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"

	"chargeops/backend/services/station-ops/internal/capacity"
)

const defaultMetricsTTL = 5 * time.Second

// RedisMetrics caches capacity metrics in redis, shared by all replicas.
type RedisMetrics struct {
	client *redis.Client
	ttl    time.Duration
}

var _ capacity.Cache = (*RedisMetrics)(nil)

// NewRedisMetrics returns redis-backed metrics cache.
func NewRedisMetrics(client *redis.Client, ttl time.Duration) *RedisMetrics {
	if ttl <= 0 {
		ttl = defaultMetricsTTL
	}
	return &RedisMetrics{client: client, ttl: ttl}
}

func metricsKey(stationID string) string {
	return fmt.Sprintf("capacity:station:%s", stationID)
}

// Get returns cached metrics. A miss is not an error.
func (c *RedisMetrics) Get(ctx context.Context, stationID string) (capacity.StationCapacityMetrics, bool, error) {
	raw, err := c.client.Get(ctx, metricsKey(stationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return capacity.StationCapacityMetrics{}, false, nil
	}
	if err != nil {
		return capacity.StationCapacityMetrics{}, false, err
	}
	var m capacity.StationCapacityMetrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return capacity.StationCapacityMetrics{}, false, err
	}
	return m, true, nil
}

// Set caches metrics for the configured ttl.
func (c *RedisMetrics) Set(ctx context.Context, m capacity.StationCapacityMetrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, metricsKey(m.StationID), data, c.ttl).Err()
}

// Invalidate drops cached metrics.
func (c *RedisMetrics) Invalidate(ctx context.Context, stationID string) error {
	return c.client.Del(ctx, metricsKey(stationID)).Err()
}

// LocalMetrics is the in-process fallback used when redis is not configured.
type LocalMetrics struct {
	items *ttlcache.Cache[string, capacity.StationCapacityMetrics]
}

var _ capacity.Cache = (*LocalMetrics)(nil)

// NewLocalMetrics builds the cache and starts its expiry loop. Call Stop to end it.
func NewLocalMetrics(ttl time.Duration) *LocalMetrics {
	if ttl <= 0 {
		ttl = defaultMetricsTTL
	}
	items := ttlcache.New(
		ttlcache.WithTTL[string, capacity.StationCapacityMetrics](ttl),
		ttlcache.WithDisableTouchOnHit[string, capacity.StationCapacityMetrics](),
	)
	go items.Start()
	return &LocalMetrics{items: items}
}

// Get implements capacity.Cache.
func (c *LocalMetrics) Get(_ context.Context, stationID string) (capacity.StationCapacityMetrics, bool, error) {
	item := c.items.Get(stationID)
	if item == nil || item.IsExpired() {
		return capacity.StationCapacityMetrics{}, false, nil
	}
	return item.Value(), true, nil
}

// Set implements capacity.Cache.
func (c *LocalMetrics) Set(_ context.Context, m capacity.StationCapacityMetrics) error {
	c.items.Set(m.StationID, m, ttlcache.DefaultTTL)
	return nil
}

// Invalidate implements capacity.Cache.
func (c *LocalMetrics) Invalidate(_ context.Context, stationID string) error {
	c.items.Delete(stationID)
	return nil
}

// Stop ends the expiry loop.
func (c *LocalMetrics) Stop() {
	c.items.Stop()
}
