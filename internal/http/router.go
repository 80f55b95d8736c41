package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-advice-service/internal/observability"
)

// NewRouter mounts the service routes. /api routes are rate limited and bounded by
// requestTimeout; /health and /metrics are not. Every route is a full path on the root router
// so a wrong method on a known path always gets 405.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := func(fn http.HandlerFunc) http.Handler {
		return RateLimitMiddleware(limiter)(TimeoutMiddleware(requestTimeout)(fn))
	}
	router.Handle("/api/weather", api(h.GetWeather)).Methods(http.MethodGet)
	router.Handle("/api/advice", api(h.PostAdvice)).Methods(http.MethodPost)
	return router
}
