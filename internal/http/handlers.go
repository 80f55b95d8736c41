// Package http serves the weather report, advice, health and metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-advice-service/internal/advice"
	"github.com/kjstillabower/weather-advice-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-advice-service/internal/lifecycle"
	"github.com/kjstillabower/weather-advice-service/internal/models"
	"github.com/kjstillabower/weather-advice-service/internal/observability"
	"github.com/kjstillabower/weather-advice-service/internal/traffic"
	"github.com/kjstillabower/weather-advice-service/internal/validation"
)

// maxAdviceBody bounds POST /api/advice bodies.
const maxAdviceBody = 64 << 10

// ReportService builds the full report for a city.
type ReportService interface {
	GetReport(ctx context.Context, city string) (models.Report, error)
}

// ProviderStatus exposes provider readiness to /health without calling the provider.
type ProviderStatus interface {
	Configured() bool
	CircuitState() circuitbreaker.State
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int // 0 when the rate limiter is disabled
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	DegradedMinRequests  int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	reports       ReportService
	provider      ProviderStatus
	healthConfig  *HealthConfig
	logger        *zap.Logger
	cityMinLength int
	cityMaxLength int

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. A nil healthConfig disables the load-based health checks.
func NewHandler(reports ReportService, provider ProviderStatus, healthConfig *HealthConfig, logger *zap.Logger, cityMinLength, cityMaxLength int) *Handler {
	if healthConfig == nil {
		healthConfig = &HealthConfig{}
	}
	return &Handler{
		reports:       reports,
		provider:      provider,
		healthConfig:  healthConfig,
		logger:        logger,
		cityMinLength: cityMinLength,
		cityMaxLength: cityMaxLength,
	}
}

// GetWeather handles GET /api/weather?city=.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("city")
	if strings.TrimSpace(raw) == "" {
		writeError(w, r, http.StatusBadRequest, CodeInvalidCity, "Query parameter 'city' is required.")
		return
	}
	city, err := validation.ValidateCity(raw, h.cityMinLength, h.cityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidCity, err.Error())
		return
	}

	report, err := h.reports.GetReport(r.Context(), city)
	if err != nil {
		if e := writeLookupError(w, r, err); e.status >= http.StatusInternalServerError {
			traffic.RecordError()
		} else {
			traffic.RecordSuccess()
		}
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, report)
}

// PostAdvice handles POST /api/advice: a JSON reading in, the advice bundle out.
func (h *Handler) PostAdvice(w http.ResponseWriter, r *http.Request) {
	reading, err := decodeReading(http.MaxBytesReader(w, r.Body, maxAdviceBody))
	if err != nil {
		observability.LoggerFromContext(r.Context()).Debug("invalid advice body", zap.Error(err))
		writeError(w, r, http.StatusBadRequest, CodeInvalidReading, "Request body must be a JSON weather reading.")
		return
	}
	bundle, fired := advice.Explain(reading)
	observability.RecordAdvice(fired)
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, bundle)
}

var errEmptyReading = errors.New("reading must be a JSON object")

func decodeReading(body io.Reader) (advice.Reading, error) {
	dec := json.NewDecoder(body)
	var reading *advice.Reading
	if err := dec.Decode(&reading); err != nil {
		return advice.Reading{}, err
	}
	if reading == nil {
		return advice.Reading{}, errEmptyReading
	}
	if dec.More() {
		return advice.Reading{}, errors.New("unexpected data after reading")
	}
	return *reading, nil
}

// Health status values.
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusOverloaded   = "overloaded"
	StatusShuttingDown = "shutting-down"
)

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health. It never calls the weather provider.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := h.healthChecks()
	result := h.computeHealthStatus(checks)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	writeJSON(w, result.statusCode, map[string]any{
		"status":    result.status,
		"service":   observability.ServiceName,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) healthChecks() map[string]string {
	checks := map[string]string{"weatherApi": "healthy"}
	switch {
	case !h.provider.Configured():
		checks["weatherApi"] = "not_configured"
	case h.provider.CircuitState() == circuitbreaker.StateOpen:
		checks["weatherApi"] = "circuit_open"
	}
	if h.healthConfig.CachePing != nil {
		checks["cache"] = "healthy"
		if h.healthConfig.CachePing() != nil {
			checks["cache"] = "unhealthy"
		}
	}
	return checks
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > provider unusable > overloaded > error rate > cache unreachable > healthy.
func (h *Handler) computeHealthStatus(checks map[string]string) healthResult {
	cfg := h.healthConfig
	if lifecycle.IsShuttingDown() {
		return healthResult{StatusShuttingDown, http.StatusServiceUnavailable, "signal"}
	}
	switch checks["weatherApi"] {
	case "not_configured":
		return healthResult{StatusDegraded, http.StatusServiceUnavailable, "provider_not_configured"}
	case "circuit_open":
		return healthResult{StatusDegraded, http.StatusServiceUnavailable, "circuit_open"}
	}
	if cfg.RateLimitRPS > 0 && cfg.OverloadWindow > 0 && cfg.OverloadThresholdPct > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(traffic.RequestCount(cfg.OverloadWindow)) > threshold {
			return healthResult{StatusOverloaded, http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(cfg.DegradedWindow)
		if total > 0 && total >= cfg.DegradedMinRequests {
			if float64(errs)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
				return healthResult{StatusDegraded, http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	if checks["cache"] == "unhealthy" {
		return healthResult{StatusDegraded, http.StatusServiceUnavailable, "cache_unreachable"}
	}
	return healthResult{StatusHealthy, http.StatusOK, ""}
}

// writeJSON writes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
