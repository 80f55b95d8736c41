// Package testhelpers provides a fake WeatherAPI.com server for client, service and handler tests.
package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// TestAPIKey is the key the fake server accepts.
const TestAPIKey = "test-weatherapi-key"

// Current is the subset of a WeatherAPI.com current.json payload the fake can render.
// nil numeric fields are omitted from the JSON.
type Current struct {
	Name, Country string
	Lat, Lon      *float64
	TempC         *float64
	FeelsLikeC    *float64
	Humidity      *float64
	PressureMB    *float64
	Text, Icon    string
	Cloud         *float64
	WindKph       *float64
	WindDegree    *float64
}

// Reply is a canned raw response.
type Reply struct {
	Status int
	Body   string
}

// FakeWeatherAPI serves /v1/current.json. Unknown cities get the provider's 1006 error payload,
// a wrong key gets 2006.
type FakeWeatherAPI struct {
	Server *httptest.Server

	mu      sync.Mutex
	cities  map[string]Current
	raw     map[string]Reply
	queue   []Reply // served before anything else, one per request
	calls   atomic.Int64
	lastReq *http.Request
}

// NewWeatherAPI starts a fake server closed at test cleanup.
func NewWeatherAPI(t testing.TB) *FakeWeatherAPI {
	t.Helper()
	f := &FakeWeatherAPI{cities: map[string]Current{}, raw: map[string]Reply{}}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the current.json endpoint of the fake.
func (f *FakeWeatherAPI) URL() string { return f.Server.URL + "/v1/current.json" }

// Calls returns the number of requests served.
func (f *FakeWeatherAPI) Calls() int { return int(f.calls.Load()) }

// LastRequest returns the most recent request, or nil.
func (f *FakeWeatherAPI) LastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

// SetCity registers conditions for a city (matched case-insensitively).
func (f *FakeWeatherAPI) SetCity(city string, c Current) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.Name == "" {
		c.Name = city
	}
	f.cities[strings.ToLower(city)] = c
}

// SetRaw makes the fake answer the city with a fixed status and body.
func (f *FakeWeatherAPI) SetRaw(city string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw[strings.ToLower(city)] = Reply{Status: status, Body: body}
}

// Enqueue serves the given replies, in order, to the next requests regardless of city.
func (f *FakeWeatherAPI) Enqueue(replies ...Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, replies...)
}

func (f *FakeWeatherAPI) serve(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastReq = r
	var reply *Reply
	if len(f.queue) > 0 {
		reply = &f.queue[0]
		f.queue = f.queue[1:]
	}
	q := r.URL.Query()
	city := strings.ToLower(strings.TrimSpace(q.Get("q")))
	raw, hasRaw := f.raw[city]
	cur, hasCity := f.cities[city]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case reply != nil:
		w.WriteHeader(reply.Status)
		_, _ = w.Write([]byte(reply.Body))
	case q.Get("key") != TestAPIKey:
		writeProviderError(w, http.StatusForbidden, 2006, "API key provided is invalid")
	case q.Get("q") == "":
		writeProviderError(w, http.StatusBadRequest, 1003, "Parameter q is missing.")
	case hasRaw:
		w.WriteHeader(raw.Status)
		_, _ = w.Write([]byte(raw.Body))
	case hasCity:
		_ = json.NewEncoder(w).Encode(render(cur))
	default:
		writeProviderError(w, http.StatusBadRequest, 1006, "No matching location found.")
	}
}

func writeProviderError(w http.ResponseWriter, status, code int, msg string) {
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, code, msg)
}

func render(c Current) map[string]any {
	loc := map[string]any{"name": c.Name, "country": c.Country}
	putIf(loc, "lat", c.Lat)
	putIf(loc, "lon", c.Lon)
	cur := map[string]any{"condition": map[string]any{"text": c.Text, "icon": c.Icon}}
	putIf(cur, "temp_c", c.TempC)
	putIf(cur, "feelslike_c", c.FeelsLikeC)
	putIf(cur, "humidity", c.Humidity)
	putIf(cur, "pressure_mb", c.PressureMB)
	putIf(cur, "cloud", c.Cloud)
	putIf(cur, "wind_kph", c.WindKph)
	putIf(cur, "wind_degree", c.WindDegree)
	return map[string]any{"location": loc, "current": cur}
}

func putIf(m map[string]any, k string, v *float64) {
	if v != nil {
		m[k] = *v
	}
}

// F returns a pointer to v.
func F(v float64) *float64 { return &v }
