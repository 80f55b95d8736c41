// Package client fetches current conditions from WeatherAPI.com and normalizes them.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-advice-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-advice-service/internal/models"
	"github.com/kjstillabower/weather-advice-service/internal/observability"
)

// DefaultURL is the WeatherAPI.com current-conditions endpoint.
const DefaultURL = "http://api.weatherapi.com/v1/current.json"

// PlaceholderKey is shipped in example config and treated as unset.
const PlaceholderKey = "REPLACE_WITH_REAL_KEY"

const (
	validationCity    = "London"
	validationTimeout = 5 * time.Second
)

// WeatherClient fetches normalized current conditions for a city.
type WeatherClient interface {
	GetCurrentWeather(ctx context.Context, city string) (models.WeatherData, error)
	ValidateAPIKey(ctx context.Context) error
	Configured() bool
}

// Options configures a WeatherAPIClient. Zero values take defaults.
type Options struct {
	APIKey       string
	URL          string        // default DefaultURL
	Timeout      time.Duration // per attempt, default 5s
	RetryCount   int           // retries after the first attempt
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	Logger       *zap.Logger
	Transport    http.RoundTripper // default http.DefaultTransport, always wrapped by otelhttp
}

// WeatherAPIClient implements WeatherClient over resty with retries, tracing and an
// optional circuit breaker.
type WeatherAPIClient struct {
	apiKey  string
	url     string
	http    *resty.Client
	breaker *circuitbreaker.CircuitBreaker
	now     func() time.Time
}

// New builds a client. A missing key is not an error here: calls fail with ErrNotConfigured
// so cached data can still be served.
func New(opts Options) (*WeatherAPIClient, error) {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	u, err := url.Parse(opts.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid weather API URL %q", opts.URL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	transport := otelhttp.NewTransport(base,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "weatherapi " + r.URL.Path
		}),
	)

	rc := resty.NewWithClient(&http.Client{Transport: transport}).
		SetTimeout(opts.Timeout).
		SetLogger(opts.Logger.Named("weatherapi").Sugar()).
		SetHeader("Accept", "application/json").
		SetRetryCount(opts.RetryCount).
		AddRetryCondition(shouldRetry).
		AddRetryHook(func(*resty.Response, error) {
			observability.WeatherAPIRetriesTotal.Inc()
		})
	if opts.RetryWait > 0 {
		rc.SetRetryWaitTime(opts.RetryWait)
	}
	if opts.RetryMaxWait > 0 {
		rc.SetRetryMaxWaitTime(opts.RetryMaxWait)
	}

	return &WeatherAPIClient{
		apiKey: strings.TrimSpace(opts.APIKey),
		url:    opts.URL,
		http:   rc,
		now:    time.Now,
	}, nil
}

// SetCircuitBreaker guards every provider call with cb.
func (c *WeatherAPIClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// CircuitState reports the breaker state; closed when no breaker is set.
func (c *WeatherAPIClient) CircuitState() circuitbreaker.State {
	if c.breaker == nil {
		return circuitbreaker.StateClosed
	}
	return c.breaker.State()
}

// Configured reports whether a usable API key is set.
func (c *WeatherAPIClient) Configured() bool {
	return c.apiKey != "" && c.apiKey != PlaceholderKey
}

// GetCurrentWeather fetches and normalizes current conditions for city.
func (c *WeatherAPIClient) GetCurrentWeather(ctx context.Context, city string) (models.WeatherData, error) {
	var data models.WeatherData
	err := c.guarded(ctx, func() error {
		var err error
		data, err = c.fetch(ctx, city)
		return err
	})
	if err != nil {
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		return models.WeatherData{}, err
	}
	return data, nil
}

// ValidateAPIKey probes the provider once with a known city. Intended for startup.
func (c *WeatherAPIClient) ValidateAPIKey(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, validationTimeout)
	defer cancel()
	if _, err := c.fetch(ctx, validationCity); err != nil {
		return fmt.Errorf("validate API key: %w", err)
	}
	return nil
}

func (c *WeatherAPIClient) guarded(ctx context.Context, fn func() error) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Call(ctx, fn)
}

func (c *WeatherAPIClient) fetch(ctx context.Context, city string) (models.WeatherData, error) {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"key": c.apiKey, "q": city, "aqi": "no"})
	if id := observability.CorrelationID(ctx); id != "" {
		req.SetHeader("X-Correlation-ID", id)
	}

	start := time.Now()
	resp, err := req.Get(c.url)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(elapsed)
		return models.WeatherData{}, fmt.Errorf("%w: %w", ErrUpstreamUnreachable, redactKey(err))
	}
	status := statusLabel(resp.StatusCode())
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(elapsed)

	return decode(resp.StatusCode(), resp.Body(), c.now())
}

// shouldRetry retries transport failures, 429 and 5xx. Caller cancellation is final.
func shouldRetry(resp *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

type currentResponse struct {
	Location struct {
		Name    string   `json:"name"`
		Country string   `json:"country"`
		Lat     *float64 `json:"lat"`
		Lon     *float64 `json:"lon"`
	} `json:"location"`
	Current struct {
		TempC      *float64 `json:"temp_c"`
		FeelsLikeC *float64 `json:"feelslike_c"`
		Humidity   *float64 `json:"humidity"`
		PressureMB *float64 `json:"pressure_mb"`
		Cloud      *float64 `json:"cloud"`
		WindKph    *float64 `json:"wind_kph"`
		WindDegree *float64 `json:"wind_degree"`
		Condition  struct {
			Text string `json:"text"`
			Icon string `json:"icon"`
		} `json:"condition"`
	} `json:"current"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// decode classifies a provider response. An error payload wins over the status code
// because WeatherAPI.com reports some errors with 200.
func decode(status int, body []byte, now time.Time) (models.WeatherData, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return models.WeatherData{}, fmt.Errorf("%w: body is not a JSON object", ErrMalformedResponse)
	}
	var p currentResponse
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return models.WeatherData{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if p.Error != nil {
		msg := p.Error.Message
		if msg == "" {
			msg = unknownErrorMessage
		}
		return models.WeatherData{}, &ProviderError{Status: status, Code: p.Error.Code, Message: msg}
	}
	if status != http.StatusOK {
		return models.WeatherData{}, &StatusError{Status: status}
	}

	return models.WeatherData{
		Location: models.Location{
			City:        p.Location.Name,
			Country:     p.Location.Country,
			Coordinates: models.Coordinates{Lat: p.Location.Lat, Lon: p.Location.Lon},
		},
		Weather: models.Conditions{
			Temperature: p.Current.TempC,
			FeelsLike:   p.Current.FeelsLikeC,
			Humidity:    p.Current.Humidity,
			Pressure:    p.Current.PressureMB,
			Description: p.Current.Condition.Text,
			Icon:        p.Current.Condition.Icon,
			Cloudiness:  p.Current.Cloud,
		},
		Wind:        models.Wind{Speed: p.Current.WindKph, Deg: p.Current.WindDegree},
		ProviderRaw: json.RawMessage(append([]byte(nil), trimmed...)),
		Timestamp:   now.UTC(),
	}, nil
}

// redactKey strips the query string, which carries the API key, from transport errors.
func redactKey(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		if i := strings.IndexByte(ue.URL, '?'); i >= 0 {
			ue.URL = ue.URL[:i]
		}
	}
	return err
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	}
	return "error"
}
