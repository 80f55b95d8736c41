package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-advice-service/internal/observability"
	"github.com/kjstillabower/weather-advice-service/internal/traffic"
)

// CorrelationIDHeader carries the request correlation id in and out. X-Request-ID is
// accepted as an inbound alias.
const CorrelationIDHeader = "X-Correlation-ID"

const maxCorrelationIDLen = 128

// CorrelationIDMiddleware echoes the caller's id, or a fresh UUID, and puts it in the
// request context along with a logger that carries it.
func CorrelationIDMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := inboundCorrelationID(r)
			w.Header().Set(CorrelationIDHeader, id)
			ctx := observability.WithLogger(
				observability.WithCorrelationID(r.Context(), id),
				logger.With(zap.String("correlation_id", id)),
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func inboundCorrelationID(r *http.Request) string {
	for _, h := range []string{CorrelationIDHeader, "X-Request-ID"} {
		if id := strings.TrimSpace(r.Header.Get(h)); id != "" && len(id) <= maxCorrelationIDLen {
			return id
		}
	}
	return uuid.NewString()
}

// MetricsMiddleware records request count and latency per route template and keeps the
// in-flight gauge and shutdown drain counter current.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := requests.begin()
		observability.HTTPRequestsInFlight.Inc()
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		defer func() {
			observability.HTTPRequestsInFlight.Dec()
			done()
			observeRequest(r, rec.status(), time.Since(start))
		}()
		next.ServeHTTP(rec, r)
	})
}

func observeRequest(r *http.Request, status int, elapsed time.Duration) {
	route := "unmatched"
	if cur := mux.CurrentRoute(r); cur != nil {
		if tpl, err := cur.GetPathTemplate(); err == nil {
			route = tpl
		}
	}
	observability.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	observability.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
}

// statusRecorder remembers the first status written; zero means an implicit 200.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

// TimeoutMiddleware bounds the request context so a slow provider surfaces as
// context.DeadlineExceeded instead of holding the connection.
func TimeoutMiddleware(timeout time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware rejects requests with 429 once the token bucket is empty. A nil
// limiter disables limiting.
func RateLimitMiddleware(limiter *rate.Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}
			traffic.RecordDenied()
			observability.RateLimitDeniedTotal.Inc()
			observability.LoggerFromContext(r.Context()).Debug("rate limit denied", zap.String("path", r.URL.Path))
			writeError(w, r, http.StatusTooManyRequests, CodeRateLimited, "Too many requests")
		})
	}
}
