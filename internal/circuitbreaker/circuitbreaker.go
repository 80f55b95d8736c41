// Package circuitbreaker guards the weather provider: after repeated failures calls fail
// fast until a cool-down passes, then probe calls decide whether to close again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Call without invoking fn while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker state. Values are exported as the state gauge.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Outcome is how a call result moves the breaker.
type Outcome int

const (
	// Failure counts toward opening and fails a half-open probe.
	Failure Outcome = iota
	// Success resets the failure count and counts toward closing from half-open.
	Success
	// Ignore leaves the breaker untouched, e.g. the caller went away before the upstream answered.
	Ignore
)

// Config holds breaker parameters. Zero values take defaults: 5 failures, 2 successes, 30s.
type Config struct {
	FailureThreshold int           // consecutive failures that open the breaker
	SuccessThreshold int           // consecutive half-open successes that close it
	Timeout          time.Duration // how long the breaker stays open before probing
	Component        string

	// Classify maps a non-nil error from fn to an Outcome. nil treats every error as a failure.
	Classify func(err error) Outcome

	// OnStateChange is called after each transition, outside the lock.
	OnStateChange func(from, to State)
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// New creates a closed breaker.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Component returns the label this breaker reports metrics under.
func (cb *CircuitBreaker) Component() string { return cb.cfg.Component }

// Call runs fn unless the breaker is open. The error from fn is returned unchanged.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err)
	return err
}

// State returns the current state. An open breaker whose timeout has elapsed still reports
// open until the next call moves it to half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	if cb.state != StateOpen {
		cb.mu.Unlock()
		return nil
	}
	if cb.now().Sub(cb.openedAt) < cb.cfg.Timeout {
		cb.mu.Unlock()
		return ErrOpen
	}
	notify := cb.transitionLocked(StateHalfOpen)
	cb.mu.Unlock()
	notify()
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	outcome := cb.outcome(err)
	if outcome == Ignore {
		return
	}
	cb.mu.Lock()
	notify := func() {}
	if outcome == Failure {
		cb.successes = 0
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.now()
			notify = cb.transitionLocked(StateOpen)
		}
	} else {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				notify = cb.transitionLocked(StateClosed)
			}
		}
	}
	cb.mu.Unlock()
	notify()
}

func (cb *CircuitBreaker) outcome(err error) Outcome {
	switch {
	case err == nil:
		return Success
	case cb.cfg.Classify == nil:
		return Failure
	}
	return cb.cfg.Classify(err)
}

// transitionLocked changes state and returns the callback to run after unlocking.
func (cb *CircuitBreaker) transitionLocked(to State) func() {
	from := cb.state
	if from == to {
		return func() {}
	}
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	if cb.cfg.OnStateChange == nil {
		return func() {}
	}
	return func() { cb.cfg.OnStateChange(from, to) }
}
