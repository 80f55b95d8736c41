package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-advice-service/internal/models"
	"github.com/kjstillabower/weather-advice-service/internal/observability"
)

const (
	maxKeyLen      = 250
	maxRelativeExp = 30 * 24 * time.Hour // memcached treats larger values as unix timestamps
)

// MemcachedCache implements Cache on memcached. Values are JSON envelopes carrying their own
// expiry; the memcached item lives for ttl plus retention so stale reads stay possible.
type MemcachedCache struct {
	client    *memcache.Client
	retention time.Duration
	now       func() time.Time
}

type envelope struct {
	Entry
	ExpiresAt time.Time `json:"expires_at"`
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). Zero timeout and maxIdleConns keep
// the client defaults.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int, retention time.Duration) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	// ServerList validates addresses up front so a typo fails at startup.
	var sl memcache.ServerList
	if err := sl.SetServers(servers...); err != nil {
		return nil, err
	}
	client := memcache.NewFromSelector(&sl)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client, retention: retention, now: time.Now}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// storageKey makes a cache key legal for memcached: no spaces or control characters and at most
// 250 bytes. Keys that would still be too long are replaced by a digest.
func storageKey(key string) string {
	k := url.QueryEscape(key)
	if len(k) <= maxKeyLen {
		return k
	}
	sum := sha256.Sum256([]byte(key))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// Get implements Cache.Get.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.WeatherData, bool, error) {
	env, ok, err := c.load(ctx, "get", key)
	if err != nil || !ok || !c.now().Before(env.ExpiresAt) {
		return models.WeatherData{}, false, err
	}
	return env.Data, true, nil
}

// GetStale implements Cache.GetStale.
func (c *MemcachedCache) GetStale(ctx context.Context, key string, maxAge time.Duration) (Entry, bool, error) {
	env, ok, err := c.load(ctx, "get_stale", key)
	if err != nil || !ok || env.Age(c.now()) > maxAge {
		return Entry{}, false, err
	}
	return env.Entry, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.WeatherData, ttl time.Duration) (err error) {
	if ttl <= 0 {
		return nil
	}
	start := time.Now()
	defer func() { observeOp("set", start, err) }()
	if err := ctx.Err(); err != nil {
		return err
	}
	now := c.now()
	raw, err := json.Marshal(envelope{
		Entry:     Entry{Data: value, StoredAt: now},
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        storageKey(key),
		Value:      raw,
		Expiration: expirationSeconds(ttl + c.retention),
	})
}

func (c *MemcachedCache) load(ctx context.Context, op, key string) (env envelope, ok bool, err error) {
	start := time.Now()
	defer func() { observeOp(op, start, err) }()
	if err := ctx.Err(); err != nil {
		return envelope{}, false, err
	}
	item, err := c.client.Get(storageKey(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return envelope{}, false, nil
	}
	if err != nil {
		return envelope{}, false, err
	}
	if err := json.Unmarshal(item.Value, &env); err != nil {
		return envelope{}, false, err
	}
	return env, true, nil
}

func expirationSeconds(d time.Duration) int32 {
	if d > maxRelativeExp {
		d = maxRelativeExp
	}
	if s := int32(d / time.Second); s > 0 {
		return s
	}
	return 1
}

func observeOp(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		observability.CacheErrorsTotal.WithLabelValues(op, errorCategory(err)).Inc()
	}
	observability.CacheOperationDurationSeconds.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}

func errorCategory(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return "decode"
	case errors.Is(err, memcache.ErrNoServers), errors.Is(err, memcache.ErrServerError):
		return "server"
	case errors.Is(err, memcache.ErrMalformedKey):
		return "key"
	}
	var cte *memcache.ConnectTimeoutError
	if errors.As(err, &cte) {
		return "timeout"
	}
	return "network"
}

// Ping checks that every memcached server is reachable. Used by /health.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes idle memcached connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
