// Package cache stores normalized weather payloads keyed by city, with a stale window
// after expiry so the service can fall back when the provider fails.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kjstillabower/weather-advice-service/internal/models"
)

// KeyPrefix namespaces weather entries in shared backends.
const KeyPrefix = "weather:"

// Key returns the cache key for a city: prefix plus the trimmed, lowercased name.
func Key(city string) string {
	return KeyPrefix + strings.ToLower(strings.TrimSpace(city))
}

// Entry is a stored payload with the time it was written.
type Entry struct {
	Data     models.WeatherData `json:"data"`
	StoredAt time.Time          `json:"stored_at"`
}

// Age is how long ago the entry was stored.
func (e Entry) Age(now time.Time) time.Duration { return now.Sub(e.StoredAt) }

// Cache defines weather payload storage.
// Get returns only unexpired entries. GetStale returns any retained entry no older than maxAge,
// expired or not. A miss is (zero, false, nil); errors are backend failures.
type Cache interface {
	Get(ctx context.Context, key string) (models.WeatherData, bool, error)
	GetStale(ctx context.Context, key string, maxAge time.Duration) (Entry, bool, error)
	Set(ctx context.Context, key string, value models.WeatherData, ttl time.Duration) error
}

// sweepInterval is the minimum gap between full sweeps of dead entries on Set.
const sweepInterval = time.Minute

// InMemoryCache implements Cache with a mutex-guarded map. Entries are kept for retention
// past their expiry. Dead entries are dropped when read and swept from Set.
type InMemoryCache struct {
	mu        sync.Mutex
	data      map[string]memEntry
	retention time.Duration
	now       func() time.Time
	nextSweep time.Time
}

type memEntry struct {
	Entry
	expiresAt time.Time
}

// NewInMemoryCache creates an empty cache. retention 0 drops entries as soon as they expire.
func NewInMemoryCache(retention time.Duration) *InMemoryCache {
	return &InMemoryCache{
		data:      make(map[string]memEntry),
		retention: retention,
		now:       time.Now,
	}
}

// Get returns the payload when present and not expired.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.WeatherData, bool, error) {
	e, ok := c.lookup(key)
	if !ok || !c.now().Before(e.expiresAt) {
		return models.WeatherData{}, false, nil
	}
	return e.Data, true, nil
}

// GetStale returns the retained entry if it was stored within maxAge.
func (c *InMemoryCache) GetStale(ctx context.Context, key string, maxAge time.Duration) (Entry, bool, error) {
	e, ok := c.lookup(key)
	if !ok || e.Age(c.now()) > maxAge {
		return Entry{}, false, nil
	}
	return e.Entry, true, nil
}

// Set stores value for ttl. Non-positive ttl is ignored.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.WeatherData, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !now.Before(c.nextSweep) {
		c.sweepLocked(now)
		c.nextSweep = now.Add(sweepInterval)
	}
	c.data[key] = memEntry{Entry: Entry{Data: value, StoredAt: now}, expiresAt: now.Add(ttl)}
	return nil
}

// sweepLocked drops every entry past expiry plus retention.
func (c *InMemoryCache) sweepLocked(now time.Time) {
	for k, e := range c.data {
		if c.dead(e, now) {
			delete(c.data, k)
		}
	}
}

func (c *InMemoryCache) dead(e memEntry, now time.Time) bool {
	return now.After(e.expiresAt.Add(c.retention))
}

// Len returns the number of retained entries, including expired ones not yet dropped.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *InMemoryCache) lookup(key string) (memEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		return memEntry{}, false
	}
	if c.dead(e, c.now()) {
		delete(c.data, key)
		return memEntry{}, false
	}
	return e, true
}
