// Package service orchestrates cache-aside weather retrieval and advice derivation.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/weather-advice-service/internal/advice"
	"github.com/kjstillabower/weather-advice-service/internal/cache"
	"github.com/kjstillabower/weather-advice-service/internal/client"
	"github.com/kjstillabower/weather-advice-service/internal/models"
	"github.com/kjstillabower/weather-advice-service/internal/observability"
)

// Options tunes the service. Zero CacheTTL takes the 10 minute default.
type Options struct {
	CacheTTL time.Duration
	StaleTTL time.Duration // max age of a stale entry served on provider failure; 0 disables

	// Coalesce shares one provider call between concurrent misses for the same city.
	// CoalesceTimeout bounds the shared call independently of any one caller.
	Coalesce        bool
	CoalesceTimeout time.Duration
}

const (
	defaultCacheTTL        = 10 * time.Minute
	defaultCoalesceTimeout = 10 * time.Second
)

// WeatherService implements the lookup flow: cache, then provider, then stale fallback.
type WeatherService struct {
	client client.WeatherClient
	cache  cache.Cache
	opts   Options
	group  singleflight.Group
}

// NewWeatherService wires a client and cache.
func NewWeatherService(c client.WeatherClient, store cache.Cache, opts Options) *WeatherService {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.CoalesceTimeout <= 0 {
		opts.CoalesceTimeout = defaultCoalesceTimeout
	}
	return &WeatherService{client: c, cache: store, opts: opts}
}

// GetWeather returns normalized weather for city and where it came from.
// A cache hit never contacts the provider, so it succeeds even without an API key.
func (s *WeatherService) GetWeather(ctx context.Context, city string) (models.WeatherData, models.Meta, error) {
	city = strings.TrimSpace(city)
	key := cache.Key(city)
	logger := observability.LoggerFromContext(ctx).With(zap.String("cache_key", key))

	cached, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		logger.Warn("cache get failed, treating as miss", zap.Error(err))
	case ok:
		observability.CacheHitsTotal.WithLabelValues("weather").Inc()
		logger.Debug("cache hit")
		return cached, models.Meta{Source: models.SourceCache, Provider: models.ProviderName}, nil
	}
	observability.CacheMissesTotal.WithLabelValues("weather").Inc()
	logger.Debug("cache miss, fetching upstream")

	data, err := s.fetch(ctx, key, city)
	if err == nil {
		return data, models.Meta{Source: models.SourceLive, Provider: models.ProviderName}, nil
	}
	if stale, ok := s.staleFallback(ctx, key, city, err, logger); ok {
		return stale, models.Meta{Source: models.SourceCache, Provider: models.ProviderName, Stale: true}, nil
	}
	return models.WeatherData{}, models.Meta{}, fmt.Errorf("fetch weather for %q: %w", city, err)
}

// GetReport returns the full response for city: weather, origin and derived advice.
func (s *WeatherService) GetReport(ctx context.Context, city string) (models.Report, error) {
	observability.RecordWeatherQuery(city)
	data, meta, err := s.GetWeather(ctx, city)
	if err != nil {
		return models.Report{}, err
	}
	bundle, fired := advice.Explain(data.Reading())
	observability.RecordAdvice(fired)
	observability.LoggerFromContext(ctx).Debug("advice derived", zap.Strings("rules", fired))
	return models.NewReport(data, meta, bundle), nil
}

// Refresh fetches city from the provider and stores it, ignoring any cached copy.
// Used by the cache warmer.
func (s *WeatherService) Refresh(ctx context.Context, city string) error {
	city = strings.TrimSpace(city)
	_, err := s.fetch(ctx, cache.Key(city), city)
	return err
}

// fetch loads from the provider and stores the result, coalescing concurrent callers for the
// same key when enabled. The caller's ctx bounds only its own wait.
func (s *WeatherService) fetch(ctx context.Context, key, city string) (models.WeatherData, error) {
	if !s.opts.Coalesce {
		return s.load(ctx, key, city)
	}
	ch := s.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.CoalesceTimeout)
		defer cancel()
		return s.load(fctx, key, city)
	})
	select {
	case <-ctx.Done():
		return models.WeatherData{}, ctx.Err()
	case r := <-ch:
		if r.Shared {
			observability.RequestCoalescingHitsTotal.WithLabelValues(observability.MetricCityLabel(city)).Inc()
		}
		if r.Err != nil {
			return models.WeatherData{}, r.Err
		}
		return r.Val.(models.WeatherData), nil
	}
}

func (s *WeatherService) load(ctx context.Context, key, city string) (models.WeatherData, error) {
	data, err := s.client.GetCurrentWeather(ctx, city)
	if err != nil {
		return models.WeatherData{}, err
	}
	if err := s.cache.Set(ctx, key, data, s.opts.CacheTTL); err != nil {
		observability.LoggerFromContext(ctx).Warn("cache set failed", zap.String("cache_key", key), zap.Error(err))
	}
	return data, nil
}

// staleFallback serves a retained entry when the provider is unavailable. Errors that a fresh
// provider call would repeat exactly (unknown city, missing key) or caller cancellation are
// returned as-is.
func (s *WeatherService) staleFallback(ctx context.Context, key, city string, cause error, logger *zap.Logger) (models.WeatherData, bool) {
	if s.opts.StaleTTL <= 0 ||
		errors.Is(cause, client.ErrLocationNotFound) ||
		errors.Is(cause, client.ErrNotConfigured) ||
		errors.Is(cause, context.Canceled) {
		return models.WeatherData{}, false
	}
	entry, ok, err := s.cache.GetStale(ctx, key, s.opts.StaleTTL)
	if err != nil || !ok {
		return models.WeatherData{}, false
	}
	age := entry.Age(time.Now())
	observability.StaleCacheServesTotal.WithLabelValues(observability.MetricCityLabel(city)).Inc()
	observability.StaleCacheAgeSeconds.Observe(age.Seconds())
	logger.Info("serving stale cache", zap.Duration("age", age), zap.Error(cause))
	return entry.Data, true
}
