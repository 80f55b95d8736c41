package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type mockRefresher struct {
	mu       sync.Mutex
	seen     []string
	failFor  map[string]error
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (m *mockRefresher) Refresh(ctx context.Context, city string) error {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(m.delay)
	m.mu.Lock()
	m.seen = append(m.seen, city)
	m.mu.Unlock()
	return m.failFor[city]
}

func TestCacheWarmer_Warm_Success(t *testing.T) {
	r := &mockRefresher{}
	warmer := NewCacheWarmer(r, nil)

	if err := warmer.Warm(context.Background(), []string{"seattle", "boston"}); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	if len(r.seen) != 2 {
		t.Errorf("refreshed %v, want both cities", r.seen)
	}
}

func TestCacheWarmer_Warm_EmptyCities(t *testing.T) {
	warmer := NewCacheWarmer(&mockRefresher{}, nil)
	if err := warmer.Warm(context.Background(), nil); err != nil {
		t.Fatalf("Warm(nil) error = %v, want nil", err)
	}
}

// TestCacheWarmer_Warm_PartialFailure verifies one failing city does not stop the rest and
// every failure is reported.
func TestCacheWarmer_Warm_PartialFailure(t *testing.T) {
	down := errors.New("api down")
	r := &mockRefresher{failFor: map[string]error{"seattle": down, "paris": down}}
	warmer := NewCacheWarmer(r, nil)

	err := warmer.Warm(context.Background(), []string{"seattle", "boston", "paris"})

	if !errors.Is(err, down) {
		t.Fatalf("Warm() error = %v, want wrapping %v", err, down)
	}
	for _, c := range []string{"warm seattle", "warm paris"} {
		if !strings.Contains(err.Error(), c) {
			t.Errorf("Warm() error %q missing %q", err, c)
		}
	}
	if len(r.seen) != 3 {
		t.Errorf("refreshed %v, want all three cities", r.seen)
	}
}

// TestCacheWarmer_Warm_BoundedConcurrency verifies no more than the configured number of
// refreshes run at once.
func TestCacheWarmer_Warm_BoundedConcurrency(t *testing.T) {
	r := &mockRefresher{delay: 5 * time.Millisecond}
	warmer := NewCacheWarmer(r, nil)
	warmer.concurrency = 2

	cities := []string{"a", "b", "c", "d", "e", "f"}
	if err := warmer.Warm(context.Background(), cities); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if p := r.peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestCacheWarmer_WarmPeriodic_StopsOnCancel(t *testing.T) {
	r := &mockRefresher{}
	warmer := NewCacheWarmer(r, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	err := warmer.WarmPeriodic(ctx, []string{"oslo"}, 10*time.Millisecond)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WarmPeriodic() error = %v, want DeadlineExceeded", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seen) == 0 {
		t.Error("WarmPeriodic() never refreshed")
	}
}
