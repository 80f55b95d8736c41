// Package lifecycle tracks process drain state and runs ordered shutdown steps.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var shuttingDown atomic.Bool

// SetShuttingDown sets the drain flag. /health reports shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Step is one named shutdown action, e.g. stopping the HTTP server or closing the cache.
type Step struct {
	Name    string
	Timeout time.Duration // 0 means the parent context bounds the step
	Fn      func(ctx context.Context) error
}

// Shutdown marks the process as draining and runs steps in order. A failing step is logged
// and does not stop later steps; all failures are returned joined.
func Shutdown(ctx context.Context, logger *zap.Logger, steps ...Step) error {
	SetShuttingDown(true)
	var errs []error
	for _, s := range steps {
		start := time.Now()
		err := runStep(ctx, s)
		if err != nil {
			logger.Error("shutdown step failed", zap.String("step", s.Name), zap.Duration("duration", time.Since(start)), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		logger.Info("shutdown step complete", zap.String("step", s.Name), zap.Duration("duration", time.Since(start)))
	}
	return errors.Join(errs...)
}

func runStep(ctx context.Context, s Step) error {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	return s.Fn(ctx)
}
