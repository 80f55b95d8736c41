package http

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-advice-service/internal/client"
	"github.com/kjstillabower/weather-advice-service/internal/observability"
)

// Error codes returned in the error body.
const (
	CodeInvalidCity           = "INVALID_CITY"
	CodeInvalidReading        = "INVALID_READING"
	CodeProviderNotConfigured = "PROVIDER_NOT_CONFIGURED"
	CodeUpstreamUnavailable   = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamMalformed     = "UPSTREAM_MALFORMED"
	CodeLocationNotFound      = "LOCATION_NOT_FOUND"
	CodeProviderError         = "PROVIDER_ERROR"
	CodeUpstreamFailure       = "UPSTREAM_FAILURE"
	CodeRateLimited           = "RATE_LIMITED"
)

// apiError is the mapped form of a lookup failure.
type apiError struct {
	status  int
	code    string
	message string
}

// mapLookupError maps a service error onto status, code and client-facing message.
// Anything unrecognised, including timeouts and an open breaker, is reported as unavailable.
func mapLookupError(err error) apiError {
	var pe *client.ProviderError
	var se *client.StatusError
	switch {
	case errors.Is(err, client.ErrNotConfigured):
		return apiError{http.StatusServiceUnavailable, CodeProviderNotConfigured, "WeatherAPI key is not configured."}
	case errors.As(err, &pe):
		msg := "Weather provider error: " + pe.Message
		if errors.Is(pe, client.ErrLocationNotFound) {
			return apiError{http.StatusNotFound, CodeLocationNotFound, msg}
		}
		return apiError{http.StatusBadGateway, CodeProviderError, msg}
	case errors.As(err, &se):
		return apiError{http.StatusBadGateway, CodeUpstreamFailure, fmt.Sprintf("Weather provider HTTP error %d.", se.Status)}
	case errors.Is(err, client.ErrMalformedResponse):
		return apiError{http.StatusBadGateway, CodeUpstreamMalformed, "Invalid response from weather provider."}
	}
	return apiError{http.StatusServiceUnavailable, CodeUpstreamUnavailable, "Failed to contact weather provider."}
}

// writeError writes {"error": {code, message, requestId}}.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeLookupError maps and writes err. Server-side failures are logged at WARN, client-side
// ones at DEBUG.
func writeLookupError(w http.ResponseWriter, r *http.Request, err error) apiError {
	e := mapLookupError(err)
	logger := observability.LoggerFromContext(r.Context())
	fields := []zap.Field{
		zap.String("code", e.code),
		zap.String("category", string(client.CategorizeError(err))),
		zap.Error(err),
	}
	if e.status >= http.StatusInternalServerError {
		logger.Warn("weather lookup failed", fields...)
	} else {
		logger.Debug("weather lookup rejected", fields...)
	}
	writeError(w, r, e.status, e.code, e.message)
	return e
}
