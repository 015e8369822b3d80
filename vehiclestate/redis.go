package vehiclestate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Raas21/delay-prediction-api/models"
	"github.com/Raas21/delay-prediction-api/services"
)

const keyPrefix = "vehicle_position:"

// kvStore is the part of services.CacheService the cache needs.
type kvStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// RedisCache stores each vehicle under its own key as a single JSON value,
// so every write is one atomic SET.
type RedisCache struct {
	kv  kvStore
	ttl time.Duration
	now func() time.Time
}

func NewRedisCache(cache *services.CacheService, ttl time.Duration) *RedisCache {
	return newRedisCache(cache, ttl)
}

func newRedisCache(kv kvStore, ttl time.Duration) *RedisCache {
	return &RedisCache{kv: kv, ttl: ttl, now: time.Now}
}

func vehicleKey(vehicleID string) string {
	return keyPrefix + vehicleID
}

func (c *RedisCache) Upsert(ctx context.Context, vehicleID string, ev models.PositionEvent) error {
	entry := models.CachedVehicleState{Event: ev, CachedAt: c.now().UTC()}
	if err := c.kv.Set(ctx, vehicleKey(vehicleID), entry, c.ttl); err != nil {
		return fmt.Errorf("cache vehicle %s: %w", vehicleID, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, vehicleID string) (models.CachedVehicleState, bool, error) {
	var entry models.CachedVehicleState
	err := c.kv.Get(ctx, vehicleKey(vehicleID), &entry)
	if errors.Is(err, services.ErrCacheMiss) {
		return models.CachedVehicleState{}, false, nil
	}
	if err != nil {
		return models.CachedVehicleState{}, false, fmt.Errorf("read vehicle %s: %w", vehicleID, err)
	}
	return entry, true, nil
}

func (c *RedisCache) List(ctx context.Context, routeID string) ([]models.CachedVehicleState, error) {
	keys, err := c.kv.Keys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan vehicles: %w", err)
	}
	out := make([]models.CachedVehicleState, 0, len(keys))
	for _, key := range keys {
		entry, ok, err := c.Get(ctx, strings.TrimPrefix(key, keyPrefix))
		if err != nil {
			logrus.WithError(err).WithField("key", key).Warn("skipping unreadable vehicle entry")
			continue
		}
		if !ok {
			continue
		}
		if routeID != "" && entry.Event.RouteID != routeID {
			continue
		}
		out = append(out, entry)
	}
	sortStates(out)
	return out, nil
}
