package vehiclestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raas21/delay-prediction-api/models"
	"github.com/Raas21/delay-prediction-api/services"
)

func event(vehicle, route, stop string, lat, lon float64) models.PositionEvent {
	return models.PositionEvent{
		VehicleID: vehicle,
		RouteID:   route,
		StopID:    stop,
		Latitude:  models.Float(lat),
		Longitude: models.Float(lon),
		Timestamp: time.Date(2025, 6, 16, 8, 30, 0, 0, time.UTC),
	}
}

// fakeKV mimics Redis string keys holding JSON.
type fakeKV struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeKV) Get(_ context.Context, key string, dest interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	raw, ok := f.data[key]
	if !ok {
		return services.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.data[key] = raw
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) Keys(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, f.err
}

func caches() map[string]func() Cache {
	return map[string]func() Cache{
		"memory": func() Cache { return NewMemoryCache(0) },
		"redis":  func() Cache { return newRedisCache(newFakeKV(), 5*time.Minute) },
	}
}

func TestCacheLastWriteWins(t *testing.T) {
	for name, mk := range caches() {
		t.Run(name, func(t *testing.T) {
			c := mk()
			ctx := context.Background()
			e1 := event("1234", "B46", "123", 40.0, -73.9)
			e2 := event("1234", "B12", "456", 40.5, -73.5)

			require.NoError(t, c.Upsert(ctx, "1234", e1))
			require.NoError(t, c.Upsert(ctx, "1234", e2))

			got, ok, err := c.Get(ctx, "1234")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "B12", got.Event.RouteID)
			assert.Equal(t, "456", got.Event.StopID)
			assert.Equal(t, 40.5, *got.Event.Latitude)
			assert.Equal(t, -73.5, *got.Event.Longitude)
			assert.False(t, got.CachedAt.IsZero())
		})
	}
}

func TestCacheAbsent(t *testing.T) {
	for name, mk := range caches() {
		t.Run(name, func(t *testing.T) {
			_, ok, err := mk().Get(context.Background(), "9999")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCacheList(t *testing.T) {
	for name, mk := range caches() {
		t.Run(name, func(t *testing.T) {
			c := mk()
			ctx := context.Background()
			require.NoError(t, c.Upsert(ctx, "2", event("2", "B46", "1", 40, -73)))
			require.NoError(t, c.Upsert(ctx, "1", event("1", "B46", "1", 40, -73)))
			require.NoError(t, c.Upsert(ctx, "3", event("3", "B12", "1", 40, -73)))

			all, err := c.List(ctx, "")
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "1", all[0].Event.VehicleID)

			b46, err := c.List(ctx, "B46")
			require.NoError(t, err)
			assert.Len(t, b46, 2)
		})
	}
}

func TestMemoryCacheCopiesEvent(t *testing.T) {
	c := NewMemoryCache(0)
	ev := event("1", "B46", "123", 40.0, -73.9)
	require.NoError(t, c.Upsert(context.Background(), "1", ev))

	*ev.Latitude = 0

	got, _, _ := c.Get(context.Background(), "1")
	assert.Equal(t, 40.0, *got.Event.Latitude)
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	now := time.Date(2025, 6, 16, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Upsert(ctx, "1", event("1", "B46", "123", 40, -73)))
	_, ok, _ := c.Get(ctx, "1")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheConcurrentWriters(t *testing.T) {
	c := NewMemoryCache(0)
	ctx := context.Background()
	var wg sync.WaitGroup

	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("v%d", i%50)
				// Each write carries matching route and stop so a torn
				// entry would show up as a mismatch.
				tag := fmt.Sprintf("%d-%d", w, i)
				_ = c.Upsert(ctx, id, event(id, "R"+tag, "S"+tag, 40, -73))
				got, ok, _ := c.Get(ctx, id)
				if ok && strings.TrimPrefix(got.Event.RouteID, "R") != strings.TrimPrefix(got.Event.StopID, "S") {
					t.Errorf("torn entry for %s: %+v", id, got.Event)
				}
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
}

func TestRedisCacheUsesTTLAndKeyPrefix(t *testing.T) {
	kv := newFakeKV()
	c := newRedisCache(kv, 5*time.Minute)
	require.NoError(t, c.Upsert(context.Background(), "1234", event("1234", "B46", "123", 40, -73.9)))

	assert.Contains(t, kv.data, "vehicle_position:1234")
	assert.Equal(t, 5*time.Minute, kv.ttls["vehicle_position:1234"])
}

func TestRedisCacheErrors(t *testing.T) {
	kv := newFakeKV()
	kv.err = errors.New("connection refused")
	c := newRedisCache(kv, 0)
	ctx := context.Background()

	assert.Error(t, c.Upsert(ctx, "1", event("1", "B46", "1", 40, -73)))
	_, ok, err := c.Get(ctx, "1")
	assert.Error(t, err)
	assert.False(t, ok)
}
