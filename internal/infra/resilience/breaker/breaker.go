// Package breaker implements a per-operation circuit breaker with a sliding
// error-rate window.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without running it.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{StateClosed, StateOpen, StateHalfOpen} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown breaker state %q", b)
}

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	MonitoringWindow time.Duration `yaml:"monitoring_window"`
	// MaxHistory bounds the request history regardless of the window.
	MaxHistory int `yaml:"max_history"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		MonitoringWindow: 60 * time.Second,
		MaxHistory:       1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.MonitoringWindow <= 0 {
		c.MonitoringWindow = d.MonitoringWindow
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = d.MaxHistory
	}
	return c
}

// Status is a point-in-time view of a breaker.
type Status struct {
	Name          string    `json:"name"`
	State         State     `json:"state"`
	FailureCount  int       `json:"failure_count"`
	SuccessCount  int       `json:"success_count"`
	ErrorRate     float64   `json:"error_rate"`
	TotalRequests int       `json:"total_requests"`
	LastFailure   time.Time `json:"last_failure,omitempty"`
}

type sample struct {
	at      time.Time
	success bool
}

// StateChangeFunc is invoked after every state transition, outside the lock.
type StateChangeFunc func(name string, from, to State)

// CircuitBreaker guards a single named operation.
type CircuitBreaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu            sync.Mutex
	state         State
	failures      int // consecutive
	successes     int
	lastFailure   time.Time
	trialInFlight bool
	history       []sample
	onStateChange StateChangeFunc
}

// New creates a breaker in the CLOSED state.
func New(name string, cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		state: StateClosed,
	}
}

// SetClock replaces the time source.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
}

// SetStateChangeCallback registers fn for state transitions.
func (cb *CircuitBreaker) SetStateChangeCallback(fn StateChangeFunc) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Name returns the operation name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state, applying the lazy OPEN to HALF_OPEN
// transition.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	from, to := cb.state, cb.refreshLocked()
	fn := cb.onStateChange
	cb.mu.Unlock()
	cb.notify(fn, from, to)
	return to
}

// refreshLocked moves OPEN to HALF_OPEN once the recovery timeout has
// elapsed since the last failure.
func (cb *CircuitBreaker) refreshLocked() State {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.cfg.RecoveryTimeout {
		cb.state = StateHalfOpen
		cb.trialInFlight = false
	}
	return cb.state
}

// before admits or rejects a call. It returns the state transition it caused.
func (cb *CircuitBreaker) before() (from, to State, fn StateChangeFunc, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from = cb.state
	to = cb.refreshLocked()
	fn = cb.onStateChange

	switch to {
	case StateOpen:
		return from, to, fn, fmt.Errorf("%w: %s", ErrOpen, cb.name)
	case StateHalfOpen:
		if cb.trialInFlight {
			return from, to, fn, fmt.Errorf("%w: %s (trial in flight)", ErrOpen, cb.name)
		}
		cb.trialInFlight = true
	}
	return from, to, fn, nil
}

// after records the outcome of an admitted call.
func (cb *CircuitBreaker) after(success bool) (from, to State, fn StateChangeFunc) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.history = append(cb.history, sample{at: now, success: success})
	cb.pruneLocked(now)

	from = cb.state
	fn = cb.onStateChange
	if success {
		cb.successes++
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
		}
	} else {
		cb.failures++
		cb.lastFailure = now
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.state = StateOpen
		}
	}
	cb.trialInFlight = false
	return from, cb.state, fn
}

func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.cfg.MonitoringWindow)
	i := 0
	for i < len(cb.history) && cb.history[i].at.Before(cutoff) {
		i++
	}
	if over := len(cb.history) - i - cb.cfg.MaxHistory; over > 0 {
		i += over
	}
	if i > 0 {
		cb.history = append(cb.history[:0], cb.history[i:]...)
	}
}

func (cb *CircuitBreaker) notify(fn StateChangeFunc, from, to State) {
	if fn != nil && from != to {
		fn(cb.name, from, to)
	}
}

// ErrorRate returns failed/total over the monitoring window, 0 when empty.
func (cb *CircuitBreaker) ErrorRate() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	rate, _ := cb.rateLocked()
	return rate
}

func (cb *CircuitBreaker) rateLocked() (float64, int) {
	cb.pruneLocked(cb.now())
	total := len(cb.history)
	if total == 0 {
		return 0, 0
	}
	failed := 0
	for _, s := range cb.history {
		if !s.success {
			failed++
		}
	}
	return float64(failed) / float64(total), total
}

// Status returns a snapshot.
func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshLocked()
	rate, total := cb.rateLocked()
	return Status{
		Name:          cb.name,
		State:         cb.state,
		FailureCount:  cb.failures,
		SuccessCount:  cb.successes,
		ErrorRate:     rate,
		TotalRequests: total,
		LastFailure:   cb.lastFailure,
	}
}

// Reset returns the breaker to CLOSED and forgets its history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.lastFailure = time.Time{}
	cb.trialInFlight = false
	cb.history = nil
	fn := cb.onStateChange
	cb.mu.Unlock()
	cb.notify(fn, from, StateClosed)
}

// Execute runs op under the breaker. See Run.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error, fallback func(context.Context, error) error) error {
	var fb func(context.Context, error) (struct{}, error)
	if fallback != nil {
		fb = func(ctx context.Context, err error) (struct{}, error) {
			return struct{}{}, fallback(ctx, err)
		}
	}
	_, err := Run(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, fb)
	return err
}

// Run invokes op through cb. When the call is rejected or fails and a
// fallback is given, the fallback's result replaces the outcome; if the
// fallback fails too, the original error is returned.
func Run[T any](ctx context.Context, cb *CircuitBreaker, op func(context.Context) (T, error), fallback func(context.Context, error) (T, error)) (T, error) {
	from, to, fn, err := cb.before()
	cb.notify(fn, from, to)
	if err != nil {
		return runFallback(ctx, err, fallback)
	}

	result, err := guarded(ctx, cb, op)
	if err == nil {
		return result, nil
	}
	return runFallback(ctx, err, fallback)
}

// guarded runs an admitted op and records its outcome. A panicking op is
// recorded as a failure before the panic continues, so a HALF_OPEN trial
// never stays in flight.
func guarded[T any](ctx context.Context, cb *CircuitBreaker, op func(context.Context) (T, error)) (result T, err error) {
	recorded := false
	defer func() {
		if !recorded {
			from, to, fn := cb.after(false)
			cb.notify(fn, from, to)
		}
	}()
	result, err = op(ctx)
	recorded = true
	from, to, fn := cb.after(err == nil)
	cb.notify(fn, from, to)
	return result, err
}

func runFallback[T any](ctx context.Context, err error, fallback func(context.Context, error) (T, error)) (T, error) {
	var zero T
	if fallback == nil {
		return zero, err
	}
	v, fbErr := fallback(ctx, err)
	if fbErr != nil {
		return zero, err
	}
	return v, nil
}
