package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/kjstillabower/weather-advice-service/internal/circuitbreaker"
)

var (
	// ErrNotConfigured means no usable API key is set. No request is made.
	ErrNotConfigured = errors.New("weather provider key is not configured")
	// ErrUpstreamUnreachable wraps transport failures and timeouts after retries.
	ErrUpstreamUnreachable = errors.New("weather provider unreachable")
	// ErrMalformedResponse means the provider body was not a JSON object.
	ErrMalformedResponse = errors.New("malformed weather provider response")
	// ErrUpstreamFailure means a non-2xx status without an error payload. See *StatusError.
	ErrUpstreamFailure = errors.New("weather provider http failure")
	// ErrCircuitOpen is returned without calling the provider while the breaker is open.
	ErrCircuitOpen = circuitbreaker.ErrOpen

	// Provider error payload classes. See *ProviderError.
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrProviderRejected = errors.New("provider rejected request")
)

// WeatherAPI.com error codes, see https://www.weatherapi.com/docs/#intro-error-codes
const (
	codeKeyNotProvided  = 1002
	codeNoLocation      = 1006
	codeKeyInvalid      = 2006
	codeQuotaExceeded   = 2007
	codeKeyDisabled     = 2008
	codeNoPlanAccess    = 2009
	unknownErrorMessage = "Unknown error from WeatherAPI."
)

// ProviderError is an explicit error payload returned by the provider.
type ProviderError struct {
	Status  int // HTTP status the payload came with
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("weather provider error %d: %s", e.Code, e.Message)
}

// Unwrap maps the provider code onto a sentinel.
func (e *ProviderError) Unwrap() error {
	switch e.Code {
	case codeKeyNotProvided, codeKeyInvalid, codeKeyDisabled, codeNoPlanAccess:
		return ErrInvalidAPIKey
	case codeNoLocation:
		return ErrLocationNotFound
	case codeQuotaExceeded:
		return ErrRateLimited
	default:
		return ErrProviderRejected
	}
}

// StatusError is a non-2xx response whose body carried no error payload.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("weather provider HTTP error %d", e.Status)
}

func (e *StatusError) Unwrap() error { return ErrUpstreamFailure }

// BreakerOutcome classifies err for the circuit breaker. An unknown city is a real provider
// answer and counts as success. A missing key, an open breaker and caller cancellation say
// nothing about provider health and are ignored.
func BreakerOutcome(err error) circuitbreaker.Outcome {
	switch {
	case errors.Is(err, ErrLocationNotFound):
		return circuitbreaker.Success
	case errors.Is(err, ErrNotConfigured),
		errors.Is(err, ErrCircuitOpen),
		errors.Is(err, context.Canceled):
		return circuitbreaker.Ignore
	}
	return circuitbreaker.Failure
}
