package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = "server:\n  port: \"9090\"\n"

// setupDir writes dev.yaml (and secrets.yaml when non-empty) into a temp dir and clears
// the env overrides Load honors.
func setupDir(t *testing.T, envYAML, secretsYAML string) string {
	t.Helper()
	for _, k := range []string{"ENV_NAME", "WEATHERAPI_KEY", "CACHE_BACKEND", "MEMCACHED_ADDRS"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "dev.yaml"), []byte(envYAML), 0o600); err != nil {
		t.Fatalf("write dev.yaml: %v", err)
	}
	if secretsYAML != "" {
		if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), []byte(secretsYAML), 0o600); err != nil {
			t.Fatalf("write secrets.yaml: %v", err)
		}
	}
	return dir
}

// TestLoadFrom_Defaults verifies a near-empty file yields the documented defaults and that a
// missing API key is not a load error.
func TestLoadFrom_Defaults(t *testing.T) {
	// Arrange
	dir := setupDir(t, minimalEnvYAML, "")

	// Act
	cfg, err := LoadFrom(dir)

	// Assert
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"ServerPort", cfg.ServerPort, "9090"},
		{"WeatherAPIKey", cfg.WeatherAPIKey, ""},
		{"WeatherAPIURL", cfg.WeatherAPIURL, "http://api.weatherapi.com/v1/current.json"},
		{"WeatherAPITimeout", cfg.WeatherAPITimeout, 5 * time.Second},
		{"RequestTimeout", cfg.RequestTimeout, 8 * time.Second},
		{"CacheTTL", cfg.CacheTTL, 10 * time.Minute},
		{"StaleCacheTTL", cfg.StaleCacheTTL, time.Hour},
		{"CacheBackend", cfg.CacheBackend, BackendInMemory},
		{"MemcachedAddrs", cfg.MemcachedAddrs, "localhost:11211"},
		{"RetryCount", cfg.RetryCount, 2},
		{"RateLimitRPS", cfg.RateLimitRPS, 100},
		{"CircuitBreakerEnabled", cfg.CircuitBreakerEnabled, true},
		{"CoalesceEnabled", cfg.CoalesceEnabled, true},
		{"CityMaxLength", cfg.CityMaxLength, 100},
		{"WarmCache", cfg.WarmCache, false},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFrom_SecretsFile(t *testing.T) {
	dir := setupDir(t, minimalEnvYAML, "weatherapi_key: key-from-secrets-file\n")
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-secrets-file" {
		t.Errorf("WeatherAPIKey = %q, want key-from-secrets-file", cfg.WeatherAPIKey)
	}
}

// TestLoadFrom_EnvOverrides verifies env vars win over file values.
func TestLoadFrom_EnvOverrides(t *testing.T) {
	dir := setupDir(t, "cache:\n  backend: in_memory\n  memcached:\n    addrs: file:11211\n", "weatherapi_key: from-file\n")
	t.Setenv("WEATHERAPI_KEY", "from-env")
	t.Setenv("CACHE_BACKEND", " Memcached ")
	t.Setenv("MEMCACHED_ADDRS", "mc1:11211,mc2:11211")

	cfg, err := LoadFrom(dir)

	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.WeatherAPIKey != "from-env" {
		t.Errorf("WeatherAPIKey = %q, want from-env", cfg.WeatherAPIKey)
	}
	if cfg.CacheBackend != BackendMemcached {
		t.Errorf("CacheBackend = %q, want memcached", cfg.CacheBackend)
	}
	if cfg.MemcachedAddrs != "mc1:11211,mc2:11211" {
		t.Errorf("MemcachedAddrs = %q", cfg.MemcachedAddrs)
	}
}

func TestLoadFrom_EnvName(t *testing.T) {
	dir := setupDir(t, minimalEnvYAML, "")
	if err := os.WriteFile(filepath.Join(dir, "prod.yaml"), []byte("server:\n  port: \"80\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_NAME", "prod")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.ServerPort != "80" {
		t.Errorf("ServerPort = %q, want 80", cfg.ServerPort)
	}
}

// TestLoadFrom_FullFile verifies every section is read.
func TestLoadFrom_FullFile(t *testing.T) {
	yaml := `
server:
  port: "8081"
weather_api:
  url: http://localhost:9999/v1/current.json
  timeout: 3s
request:
  timeout: 6s
cache:
  backend: memcached
  ttl: 5m
  stale_ttl: 0s
  warm: true
  warm_interval: 15m
  memcached:
    addrs: mc:11211
    timeout: 250ms
    max_idle_conns: 8
reliability:
  retry_count: 0
  retry_wait: 50ms
  retry_max_wait: 1s
  rate_limit_rps: 10
  rate_limit_burst: 20
  circuit_breaker:
    enabled: false
    failure_threshold: 3
    success_threshold: 1
    timeout: 15s
  coalesce:
    enabled: false
    timeout: 4s
shutdown:
  timeout: 20s
  in_flight_timeout: 5s
  in_flight_check_interval: 50ms
health:
  overload_window: 30s
  overload_threshold_pct: 90
  degraded_window: 2m
  degraded_error_pct: 20
  degraded_min_requests: 4
validation:
  city_min_length: 2
  city_max_length: 60
metrics:
  tracked_cities: [London, Paris]
`
	dir := setupDir(t, yaml, "")

	cfg, err := LoadFrom(dir)

	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"WeatherAPIURL", cfg.WeatherAPIURL, "http://localhost:9999/v1/current.json"},
		{"WeatherAPITimeout", cfg.WeatherAPITimeout, 3 * time.Second},
		{"RequestTimeout", cfg.RequestTimeout, 6 * time.Second},
		{"CacheTTL", cfg.CacheTTL, 5 * time.Minute},
		{"StaleCacheTTL", cfg.StaleCacheTTL, time.Duration(0)},
		{"WarmCache", cfg.WarmCache, true},
		{"WarmInterval", cfg.WarmInterval, 15 * time.Minute},
		{"MemcachedMaxIdleConns", cfg.MemcachedMaxIdleConns, 8},
		{"RetryCount", cfg.RetryCount, 0},
		{"RateLimitBurst", cfg.RateLimitBurst, 20},
		{"CircuitBreakerEnabled", cfg.CircuitBreakerEnabled, false},
		{"CircuitBreakerFailureThreshold", cfg.CircuitBreakerFailureThreshold, 3},
		{"CoalesceEnabled", cfg.CoalesceEnabled, false},
		{"CoalesceTimeout", cfg.CoalesceTimeout, 4 * time.Second},
		{"ShutdownInFlightCheckInterval", cfg.ShutdownInFlightCheckInterval, 50 * time.Millisecond},
		{"OverloadThresholdPct", cfg.OverloadThresholdPct, 90},
		{"DegradedWindow", cfg.DegradedWindow, 2 * time.Minute},
		{"DegradedMinRequests", cfg.DegradedMinRequests, 4},
		{"CityMinLength", cfg.CityMinLength, 2},
		{"CityMaxLength", cfg.CityMaxLength, 60},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if len(cfg.TrackedCities) != 2 || cfg.TrackedCities[1] != "Paris" {
		t.Errorf("TrackedCities = %v", cfg.TrackedCities)
	}
}

func TestLoadFrom_RequestTimeoutRaisedAboveProviderTimeout(t *testing.T) {
	dir := setupDir(t, "weather_api:\n  timeout: 10s\nrequest:\n  timeout: 4s\n", "")
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.RequestTimeout != 11*time.Second {
		t.Errorf("RequestTimeout = %v, want 11s", cfg.RequestTimeout)
	}
}

func TestLoadFrom_InvalidDurationFallsBack(t *testing.T) {
	dir := setupDir(t, "cache:\n  ttl: soon\n", "")
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Errorf("CacheTTL = %v, want 10m default", cfg.CacheTTL)
	}
}

func TestLoadFrom_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		secrets string
		wantSub string
	}{
		{"bad backend", "cache:\n  backend: redis\n", "", "cache.backend"},
		{"zero provider timeout", "weather_api:\n  timeout: 0s\n", "", "weather_api.timeout"},
		{"negative stale ttl", "cache:\n  stale_ttl: -1m\n", "", "stale_ttl"},
		{"negative retries", "reliability:\n  retry_count: -1\n", "", "retry_count"},
		{"inverted city bounds", "validation:\n  city_min_length: 50\n  city_max_length: 10\n", "", "city_min_length"},
		{"malformed yaml", "server: [\n", "", "parse config file"},
		{"malformed secrets", minimalEnvYAML, "weatherapi_key: [\n", "parse secrets file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupDir(t, tt.yaml, tt.secrets)
			cfg, err := LoadFrom(dir)
			if err == nil {
				t.Fatalf("LoadFrom() = %+v, want error", cfg)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %v, want containing %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoadFrom_MissingFile(t *testing.T) {
	t.Setenv("ENV_NAME", "")
	_, err := LoadFrom(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("error = %v, want config file not found", err)
	}
}

// TestLoad_ShippedDevConfig verifies the repository's config/dev.yaml loads.
func TestLoad_ShippedDevConfig(t *testing.T) {
	for _, k := range []string{"ENV_NAME", "WEATHERAPI_KEY", "CACHE_BACKEND", "MEMCACHED_ADDRS"} {
		t.Setenv(k, "")
	}
	if _, err := LoadFrom(filepath.Join("..", "..", "config")); err != nil {
		t.Errorf("LoadFrom(config) error = %v", err)
	}
}
