package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-advice-service/internal/cache"
	"github.com/kjstillabower/weather-advice-service/internal/client"
	"github.com/kjstillabower/weather-advice-service/internal/models"
	"github.com/kjstillabower/weather-advice-service/internal/observability"
	"github.com/kjstillabower/weather-advice-service/internal/service"
	"github.com/kjstillabower/weather-advice-service/internal/testhelpers"
	"github.com/kjstillabower/weather-advice-service/internal/traffic"
)

// blockingReports waits for ctx to end, as a slow provider would.
type blockingReports struct{}

func (blockingReports) GetReport(ctx context.Context, city string) (models.Report, error) {
	<-ctx.Done()
	return models.Report{}, ctx.Err()
}

func newTestRouter(reports ReportService, limiter *rate.Limiter, timeout time.Duration) *mux.Router {
	handler := newTestHandler(reports, &mockProvider{}, nil)
	return NewRouter(handler, zap.NewNop(), limiter, timeout)
}

// TestRouter_EndToEnd verifies a weather lookup through the full stack: router, service,
// cache and client against a fake provider.
func TestRouter_EndToEnd(t *testing.T) {
	// Arrange
	fake := testhelpers.NewWeatherAPI(t)
	fake.SetCity("Paris", testhelpers.Current{
		Name: "Paris", Country: "France", TempC: testhelpers.F(33), Humidity: testhelpers.F(40),
		WindKph: testhelpers.F(10), Text: "Sunny",
	})
	c, err := client.New(client.Options{APIKey: testhelpers.TestAPIKey, URL: fake.URL(), Timeout: time.Second})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	svc := service.NewWeatherService(c, cache.NewInMemoryCache(time.Hour), service.Options{CacheTTL: time.Minute})
	handler := NewHandler(svc, c, nil, zap.NewNop(), 1, 100)
	router := NewRouter(handler, zap.NewNop(), nil, 5*time.Second)

	// Act: a miss then a hit
	var reports [2]models.Report
	for i := range reports {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/weather?city=Paris", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, body = %s", i, w.Code, w.Body.String())
		}
		if err := json.NewDecoder(w.Body).Decode(&reports[i]); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}

	// Assert
	if reports[0].Meta.Source != models.SourceLive || reports[1].Meta.Source != models.SourceCache {
		t.Errorf("sources = %q, %q; want live, cache", reports[0].Meta.Source, reports[1].Meta.Source)
	}
	if fake.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", fake.Calls())
	}
	if reports[0].Advice.Summary != "It's quite hot." {
		t.Errorf("summary = %q", reports[0].Advice.Summary)
	}
}

// TestRouter_UnknownLocation verifies a 1006 provider reply surfaces as 404.
func TestRouter_UnknownLocation(t *testing.T) {
	fake := testhelpers.NewWeatherAPI(t)
	c, err := client.New(client.Options{APIKey: testhelpers.TestAPIKey, URL: fake.URL(), Timeout: time.Second})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	svc := service.NewWeatherService(c, cache.NewInMemoryCache(time.Hour), service.Options{})
	router := NewRouter(NewHandler(svc, c, nil, zap.NewNop(), 1, 100), zap.NewNop(), nil, 5*time.Second)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/weather?city=Atlantis", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body = %s", w.Code, w.Body.String())
	}
	if got := decodeError(t, w).Error.Code; got != CodeLocationNotFound {
		t.Errorf("code = %q, want %q", got, CodeLocationNotFound)
	}
}

// TestMiddleware_CorrelationID verifies the id is generated when absent, echoed when supplied,
// and reported in error bodies.
func TestMiddleware_CorrelationID(t *testing.T) {
	router := newTestRouter(&mockReports{}, nil, time.Second)

	// Act: no header
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Header().Get(CorrelationIDHeader) == "" {
		t.Error("X-Correlation-ID header missing")
	}

	// Act: client-provided header on an error response
	req := httptest.NewRequest(http.MethodGet, "/api/weather", nil)
	req.Header.Set(CorrelationIDHeader, "client-provided-id")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Assert
	if got := w.Header().Get(CorrelationIDHeader); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
	if got := decodeError(t, w).Error.RequestID; got != "client-provided-id" {
		t.Errorf("requestId = %q, want client-provided-id", got)
	}
}

// TestMiddleware_CorrelationIDTooLong verifies oversized ids are replaced.
func TestMiddleware_CorrelationIDTooLong(t *testing.T) {
	router := newTestRouter(&mockReports{}, nil, time.Second)
	long := strings.Repeat("x", 200)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(CorrelationIDHeader, long)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get(CorrelationIDHeader); got == long || got == "" {
		t.Errorf("X-Correlation-ID = %q, want a generated id", got)
	}
}

// TestTimeoutMiddleware_CancelsContextAfterTimeout verifies a slow lookup is cut off and reported unavailable.
func TestTimeoutMiddleware_CancelsContextAfterTimeout(t *testing.T) {
	router := newTestRouter(blockingReports{}, nil, 50*time.Millisecond)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/weather?city=Seattle", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d (timeout should cause upstream error)", w.Code, http.StatusServiceUnavailable)
	}
}

// TestRateLimitMiddleware_Returns429WhenExceeded verifies the bucket denies once exhausted and
// records the denial.
func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	// Arrange
	traffic.Reset()
	t.Cleanup(traffic.Reset)
	router := newTestRouter(&mockReports{}, rate.NewLimiter(1, 2), time.Second)

	for i := 0; i < 3; i++ {
		// Act
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/weather?city=Seattle", nil))

		// Assert
		if i < 2 {
			if w.Code != http.StatusOK {
				t.Errorf("request %d: status = %d, want 200", i, w.Code)
			}
			continue
		}
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("request %d: status = %d, want 429", i, w.Code)
		}
		body := decodeError(t, w)
		if body.Error.Code != CodeRateLimited || body.Error.Message != "Too many requests" {
			t.Errorf("error = %+v", body.Error)
		}
	}
	if got := traffic.DenialCount(time.Minute); got != 1 {
		t.Errorf("DenialCount = %d, want 1", got)
	}
}

// TestRateLimitMiddleware_HealthNotLimited verifies /health bypasses the limiter.
func TestRateLimitMiddleware_HealthNotLimited(t *testing.T) {
	router := newTestRouter(&mockReports{}, rate.NewLimiter(rate.Limit(0), 0), time.Second)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

// TestRateLimitMiddleware_NilLimiterPassesThrough verifies a nil limiter disables limiting.
func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	router := newTestRouter(&mockReports{}, nil, time.Second)

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/weather?city=Seattle", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200 (nil limiter should allow)", i, w.Code)
		}
	}
}

// TestRouter_MethodsAndRoutes verifies a wrong method on any known path gets 405, whichever
// route is registered last, and unknown paths get 404.
func TestRouter_MethodsAndRoutes(t *testing.T) {
	router := newTestRouter(&mockReports{}, nil, time.Second)
	tests := []struct {
		method, path string
		body         string
		want         int
	}{
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodPost, "/api/advice", `{"temperature": 20}`, http.StatusOK},
		{http.MethodGet, "/api/advice", "", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/weather?city=Paris", "", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/weather", "", http.StatusMethodNotAllowed},
		{http.MethodPut, "/api/advice", `{}`, http.StatusMethodNotAllowed},
		{http.MethodPost, "/health", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/nope", "", http.StatusNotFound},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
		if w.Code != tt.want {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, w.Code, tt.want)
		}
	}
}

// TestMiddleware_MetricsUsesRouteTemplate verifies request metrics are labelled by route, not raw path.
func TestMiddleware_MetricsUsesRouteTemplate(t *testing.T) {
	router := newTestRouter(&mockReports{}, nil, time.Second)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/weather?city=Oslo", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(w.Body.String(), `route="/api/weather"`) {
		t.Error("metrics missing route=\"/api/weather\" label")
	}
	if InFlightCount() != 0 {
		t.Errorf("InFlightCount() = %d after requests completed, want 0", InFlightCount())
	}
}

// TestMiddleware_LoggerInContext verifies handlers get a request-scoped logger.
func TestMiddleware_LoggerInContext(t *testing.T) {
	var got string
	mw := CorrelationIDMiddleware(zap.NewNop())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = observability.CorrelationID(r.Context())
		if observability.LoggerFromContext(r.Context()) == nil {
			t.Error("logger missing from context")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "abc" {
		t.Errorf("CorrelationID = %q, want abc", got)
	}
}

// TestMiddleware_RequestIDAlias verifies X-Request-ID is honoured when X-Correlation-ID is absent.
func TestMiddleware_RequestIDAlias(t *testing.T) {
	router := newTestRouter(&mockReports{}, nil, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get(CorrelationIDHeader); got != "req-42" {
		t.Errorf("X-Correlation-ID = %q, want req-42", got)
	}
}
