// Package vehiclestate keeps the latest known position of every vehicle.
package vehiclestate

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/Raas21/delay-prediction-api/models"
)

// Cache stores one entry per vehicle. Upsert replaces the whole entry;
// readers see either the previous entry or the new one.
type Cache interface {
	Upsert(ctx context.Context, vehicleID string, ev models.PositionEvent) error
	Get(ctx context.Context, vehicleID string) (models.CachedVehicleState, bool, error)
	// List returns cached states for routeID, or all when routeID is empty.
	List(ctx context.Context, routeID string) ([]models.CachedVehicleState, error)
}

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	entries map[string]*models.CachedVehicleState
}

// MemoryCache is a sharded in-process cache. Writers to different shards
// never contend.
type MemoryCache struct {
	shards [shardCount]*shard
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryCache returns an empty cache. A zero ttl keeps entries forever.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	c := &MemoryCache{ttl: ttl, now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]*models.CachedVehicleState)}
	}
	return c
}

func (c *MemoryCache) shardFor(vehicleID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(vehicleID))
	return c.shards[h.Sum32()%shardCount]
}

func (c *MemoryCache) Upsert(_ context.Context, vehicleID string, ev models.PositionEvent) error {
	entry := &models.CachedVehicleState{Event: cloneEvent(ev), CachedAt: c.now().UTC()}
	s := c.shardFor(vehicleID)
	s.mu.Lock()
	s.entries[vehicleID] = entry
	s.mu.Unlock()
	return nil
}

func (c *MemoryCache) Get(_ context.Context, vehicleID string) (models.CachedVehicleState, bool, error) {
	s := c.shardFor(vehicleID)
	s.mu.RLock()
	entry, ok := s.entries[vehicleID]
	s.mu.RUnlock()
	if !ok {
		return models.CachedVehicleState{}, false, nil
	}
	if c.expired(entry) {
		s.mu.Lock()
		if s.entries[vehicleID] == entry {
			delete(s.entries, vehicleID)
		}
		s.mu.Unlock()
		return models.CachedVehicleState{}, false, nil
	}
	return *entry, true, nil
}

func (c *MemoryCache) List(_ context.Context, routeID string) ([]models.CachedVehicleState, error) {
	var out []models.CachedVehicleState
	for _, s := range c.shards {
		s.mu.RLock()
		for _, entry := range s.entries {
			if c.expired(entry) {
				continue
			}
			if routeID != "" && entry.Event.RouteID != routeID {
				continue
			}
			out = append(out, *entry)
		}
		s.mu.RUnlock()
	}
	sortStates(out)
	return out, nil
}

// Len counts live entries.
func (c *MemoryCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		for _, entry := range s.entries {
			if !c.expired(entry) {
				n++
			}
		}
		s.mu.RUnlock()
	}
	return n
}

func (c *MemoryCache) expired(entry *models.CachedVehicleState) bool {
	return c.ttl > 0 && c.now().Sub(entry.CachedAt) > c.ttl
}

func cloneEvent(ev models.PositionEvent) models.PositionEvent {
	if ev.Latitude != nil {
		ev.Latitude = models.Float(*ev.Latitude)
	}
	if ev.Longitude != nil {
		ev.Longitude = models.Float(*ev.Longitude)
	}
	if ev.DirectionID != nil {
		d := *ev.DirectionID
		ev.DirectionID = &d
	}
	if ev.StopSequence != nil {
		seq := *ev.StopSequence
		ev.StopSequence = &seq
	}
	return ev
}

func sortStates(states []models.CachedVehicleState) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].Event.VehicleID < states[j].Event.VehicleID
	})
}
