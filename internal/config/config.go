// Package config loads service configuration from config/{ENV_NAME}.yaml, config/secrets.yaml
// and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Cache backend names.
const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	// WeatherAPIKey may be empty; lookups then fail on cache miss with a not-configured error.
	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	RequestTimeout time.Duration

	CacheTTL      time.Duration
	StaleCacheTTL time.Duration // 0 disables stale fallback
	CacheBackend  string

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryCount   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	DegradedMinRequests  int

	CityMinLength int
	CityMaxLength int

	TrackedCities []string
	WarmCache     bool
	WarmInterval  time.Duration // 0 warms once at startup only
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		StaleTTL  string `yaml:"stale_ttl"`
		Warm      bool   `yaml:"warm"`
		WarmEvery string `yaml:"warm_interval"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryCount     *int   `yaml:"retry_count"`
		RetryWait      string `yaml:"retry_wait"`
		RetryMaxWait   string `yaml:"retry_max_wait"`
		RateLimitRPS   int    `yaml:"rate_limit_rps"`
		RateLimitBurst int    `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
		Coalesce struct {
			Enabled *bool  `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalesce"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Health struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
		DegradedMinRequests  int    `yaml:"degraded_min_requests"`
	} `yaml:"health"`

	Validation struct {
		CityMinLength int `yaml:"city_min_length"`
		CityMaxLength int `yaml:"city_max_length"`
	} `yaml:"validation"`

	Metrics struct {
		TrackedCities []string `yaml:"tracked_cities"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weatherapi_key"`
}

// Load reads configuration from ./config. Call from the project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(filepath.Join(cwd, "config"))
}

// LoadFrom reads dir/{ENV_NAME}.yaml (default dev) and the optional dir/secrets.yaml.
// The API key comes from WEATHERAPI_KEY or the secrets file; CACHE_BACKEND and MEMCACHED_ADDRS
// override the file.
func LoadFrom(dir string) (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(dir, env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	key, err := loadAPIKey(dir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerPort:    orDefault(fc.Server.Port, "8080"),
		WeatherAPIKey: key,
		WeatherAPIURL: orDefault(strings.TrimSpace(fc.WeatherAPI.URL), "http://api.weatherapi.com/v1/current.json"),
		// Non-positive timeouts are rejected by validate rather than defaulted.
		WeatherAPITimeout: parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second),
		RequestTimeout:    parseDuration(fc.Request.Timeout, 8*time.Second),

		CacheTTL:      parseDuration(fc.Cache.TTL, 10*time.Minute),
		StaleCacheTTL: parseDurationOrZero(fc.Cache.StaleTTL, time.Hour),
		CacheBackend:  strings.ToLower(strings.TrimSpace(envOr("CACHE_BACKEND", fc.Cache.Backend))),
		WarmCache:     fc.Cache.Warm,
		WarmInterval:  parseDurationOrZero(fc.Cache.WarmEvery, 0),

		MemcachedAddrs:        orDefault(strings.TrimSpace(envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs)), "localhost:11211"),
		MemcachedTimeout:      parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond),
		MemcachedMaxIdleConns: positiveOr(fc.Cache.Memcached.MaxIdleConns, 2),

		RetryCount:   2,
		RetryWait:    parseDuration(fc.Reliability.RetryWait, 100*time.Millisecond),
		RetryMaxWait: parseDuration(fc.Reliability.RetryMaxWait, 2*time.Second),

		RateLimitRPS:   positiveOr(fc.Reliability.RateLimitRPS, 100),
		RateLimitBurst: positiveOr(fc.Reliability.RateLimitBurst, 250),

		CircuitBreakerEnabled:          boolOr(fc.Reliability.CircuitBreaker.Enabled, true),
		CircuitBreakerFailureThreshold: positiveOr(fc.Reliability.CircuitBreaker.FailureThreshold, 5),
		CircuitBreakerSuccessThreshold: positiveOr(fc.Reliability.CircuitBreaker.SuccessThreshold, 2),
		CircuitBreakerTimeout:          parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second),

		CoalesceEnabled: boolOr(fc.Reliability.Coalesce.Enabled, true),
		CoalesceTimeout: parseDuration(fc.Reliability.Coalesce.Timeout, 10*time.Second),

		ShutdownTimeout:               parseDuration(fc.Shutdown.Timeout, 30*time.Second),
		ShutdownInFlightTimeout:       parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second),
		ShutdownInFlightCheckInterval: parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond),

		OverloadWindow:       parseDuration(fc.Health.OverloadWindow, 60*time.Second),
		OverloadThresholdPct: positiveOr(fc.Health.OverloadThresholdPct, 80),
		DegradedWindow:       parseDuration(fc.Health.DegradedWindow, 60*time.Second),
		DegradedErrorPct:     positiveOr(fc.Health.DegradedErrorPct, 5),
		DegradedMinRequests:  positiveOr(fc.Health.DegradedMinRequests, 10),

		CityMinLength: positiveOr(fc.Validation.CityMinLength, 1),
		CityMaxLength: positiveOr(fc.Validation.CityMaxLength, 100),

		TrackedCities: fc.Metrics.TrackedCities,
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = BackendInMemory
	}
	if n := fc.Reliability.RetryCount; n != nil {
		cfg.RetryCount = *n
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadAPIKey(dir string) (string, error) {
	if k := strings.TrimSpace(os.Getenv("WEATHERAPI_KEY")); k != "" {
		return k, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, "secrets.yaml"))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

// parseDuration parses s and returns defaultVal if s is empty, invalid, or <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero returns defaultVal on empty or invalid input and keeps explicit zero or
// negative values for the caller to interpret.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func positiveOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// validate checks cross-field constraints. RequestTimeout is raised above the provider timeout
// so a handler never gives up before the provider call can finish.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.StaleCacheTTL < 0 {
		return fmt.Errorf("cache.stale_ttl must not be negative")
	}
	if cfg.RetryCount < 0 {
		return fmt.Errorf("reliability.retry_count must not be negative")
	}
	if cfg.WarmInterval < 0 {
		return fmt.Errorf("cache.warm_interval must not be negative")
	}
	if cfg.CityMinLength > cfg.CityMaxLength {
		return fmt.Errorf("validation.city_min_length %d exceeds city_max_length %d", cfg.CityMinLength, cfg.CityMaxLength)
	}
	switch cfg.CacheBackend {
	case BackendInMemory, BackendMemcached:
	default:
		return fmt.Errorf("cache.backend must be %s or %s, got %q", BackendInMemory, BackendMemcached, cfg.CacheBackend)
	}
	return nil
}
