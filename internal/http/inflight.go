package http

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// inFlight counts requests currently being served so shutdown can drain them.
type inFlight struct {
	n atomic.Int64
}

// begin marks a request as started and returns the func that marks it finished.
func (f *inFlight) begin() (done func()) {
	f.n.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			f.n.Add(-1)
		}
	}
}

func (f *inFlight) count() int64 { return f.n.Load() }

// drain polls every interval until no request is in flight. On ctx expiry the error
// reports how many requests were still running.
func (f *inFlight) drain(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for f.count() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d requests still in flight: %w", f.count(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

var requests inFlight

// InFlightCount returns the number of requests being served by this process.
func InFlightCount() int64 { return requests.count() }

// WaitForInFlight blocks until in-flight requests reach zero or ctx is done.
func WaitForInFlight(ctx context.Context, checkInterval time.Duration) error {
	return requests.drain(ctx, checkInterval)
}
