package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line and reported by /health.
const ServiceName = "weather-advice-service"

// LoggerOptions selects level and encoding. Zero values mean INFO and JSON.
type LoggerOptions struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// LoggerOptionsFromEnv reads LOG_LEVEL and LOG_FORMAT.
func LoggerOptionsFromEnv() LoggerOptions {
	return LoggerOptions{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")}
}

// NewLogger builds the service logger from the environment.
func NewLogger() (*zap.Logger, error) {
	return NewLoggerWith(LoggerOptionsFromEnv())
}

// NewLoggerWith builds the service logger. Console format is meant for local runs; everything
// else gets the production JSON encoder.
func NewLoggerWith(opts LoggerOptions) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(opts.Format), "console") {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = parseLogLevel(opts.Level)
	config.InitialFields = map[string]interface{}{"service": ServiceName}

	return config.Build()
}

// parseLogLevel falls back to INFO for empty or unknown input.
func parseLogLevel(s string) zap.AtomicLevel {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || level > zapcore.ErrorLevel {
		level = zapcore.InfoLevel
	}
	return zap.NewAtomicLevelAt(level)
}
