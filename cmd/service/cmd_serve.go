package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-advice-service/internal/cache"
	"github.com/kjstillabower/weather-advice-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-advice-service/internal/client"
	"github.com/kjstillabower/weather-advice-service/internal/config"
	httphandler "github.com/kjstillabower/weather-advice-service/internal/http"
	"github.com/kjstillabower/weather-advice-service/internal/lifecycle"
	"github.com/kjstillabower/weather-advice-service/internal/observability"
	"github.com/kjstillabower/weather-advice-service/internal/service"
)

const weatherAPIComponent = "weather_api"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		Long:  `Start the HTTP service. Configuration is read from config/<ENV_NAME>.yaml and config/secrets.yaml.`,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	weatherClient, err := client.New(client.Options{
		APIKey:       cfg.WeatherAPIKey,
		URL:          cfg.WeatherAPIURL,
		Timeout:      cfg.WeatherAPITimeout,
		RetryCount:   cfg.RetryCount,
		RetryWait:    cfg.RetryWait,
		RetryMaxWait: cfg.RetryMaxWait,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("weather client: %w", err)
	}

	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        weatherAPIComponent,
			Classify:         client.BreakerOutcome,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(weatherAPIComponent, from.String(), to.String(), int(to))
				logger.Warn("circuit breaker state change",
					zap.String("component", weatherAPIComponent),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		weatherClient.SetCircuitBreaker(cb)
		observability.CircuitBreakerState.WithLabelValues(weatherAPIComponent).Set(float64(circuitbreaker.StateClosed))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	if !weatherClient.Configured() {
		logger.Warn("WeatherAPI key is not configured; weather lookups will fail until WEATHERAPI_KEY or config/secrets.yaml is set")
	} else {
		checkAPIKey(cmd.Context(), weatherClient, logger)
	}

	var store cache.Cache
	var memcached *cache.MemcachedCache
	switch cfg.CacheBackend {
	case config.BackendMemcached:
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.StaleCacheTTL)
		if err != nil {
			return fmt.Errorf("memcached cache: %w", err)
		}
		memcached = mc
		store = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		store = cache.NewInMemoryCache(cfg.StaleCacheTTL)
		logger.Info("cache backend: in_memory")
	}

	weatherService := service.NewWeatherService(weatherClient, store, service.Options{
		CacheTTL:        cfg.CacheTTL,
		StaleTTL:        cfg.StaleCacheTTL,
		Coalesce:        cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
	})

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		DegradedMinRequests:  cfg.DegradedMinRequests,
	}
	if memcached != nil {
		healthConfig.CachePing = memcached.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(weatherService, weatherClient, healthConfig, logger, cfg.CityMinLength, cfg.CityMaxLength)

	observability.RegisterTrafficGauges(cfg.OverloadWindow)
	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.WarmCache && len(cfg.TrackedCities) > 0 && weatherClient.Configured() {
		startWarming(ctx, cache.NewCacheWarmer(weatherService, logger), cfg, logger)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      httphandler.NewRouter(handler, logger, limiter, cfg.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 2*time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("graceful shutdown triggered")
	case err := <-serveErr:
		logger.Error("server", zap.Error(err))
	}
	stop()

	steps := []lifecycle.Step{
		{Name: "http_server", Timeout: cfg.ShutdownTimeout, Fn: srv.Shutdown},
		{Name: "in_flight", Timeout: cfg.ShutdownInFlightTimeout, Fn: func(ctx context.Context) error {
			logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
			return httphandler.WaitForInFlight(ctx, cfg.ShutdownInFlightCheckInterval)
		}},
		{Name: "telemetry", Timeout: 5 * time.Second, Fn: func(ctx context.Context) error {
			return observability.FlushTelemetry(ctx, logger)
		}},
	}
	if memcached != nil {
		steps = append(steps, lifecycle.Step{Name: "memcached", Fn: func(context.Context) error {
			return memcached.Close()
		}})
	}
	if err := lifecycle.Shutdown(context.Background(), logger, steps...); err != nil {
		logger.Warn("shutdown completed with errors", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// checkAPIKey validates the configured key once at startup. A rejected key is logged as an
// error; an unreachable provider only warns so the service can start during an outage.
func checkAPIKey(ctx context.Context, c client.WeatherClient, logger *zap.Logger) {
	if ctx == nil {
		ctx = context.Background()
	}
	err := c.ValidateAPIKey(ctx)
	switch {
	case err == nil:
		logger.Info("WeatherAPI key validated")
	case errors.Is(err, client.ErrInvalidAPIKey):
		logger.Error("WeatherAPI key rejected by provider", zap.Error(err))
	default:
		logger.Warn("WeatherAPI key could not be validated", zap.Error(err),
			zap.String("category", string(client.CategorizeError(err))))
	}
}

func startWarming(ctx context.Context, warmer *cache.CacheWarmer, cfg *config.Config, logger *zap.Logger) {
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := warmer.Warm(warmCtx, cfg.TrackedCities); err != nil {
		logger.Warn("cache warming failed", zap.Error(err))
	}
	cancel()
	if cfg.WarmInterval <= 0 {
		return
	}
	go func() {
		if err := warmer.WarmPeriodic(ctx, cfg.TrackedCities, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("periodic cache warming stopped", zap.Error(err))
		}
	}()
}
