// Package retry runs operations under named retry presets with exponential
// backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vietddude/chatwatch/internal/infra/resilience/fault"
)

// Call tags a protected call for observability.
type Call struct {
	Operation string
	Component string
	User      string
}

// Attempt describes one failed attempt.
type Attempt struct {
	Call   Call
	Policy string
	Number int // 1-based
	Delay  time.Duration
	Err    error
}

// Observer receives retry lifecycle events. Implementations must not block.
type Observer interface {
	OnError(a Attempt)
	OnRecovered(call Call, attempt int, elapsed time.Duration)
	OnFinalFailure(a Attempt)
}

// SleepFunc suspends for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ErrNonRetryable marks an error that must never be retried regardless of
// policy.
var ErrNonRetryable = errors.New("non-retryable")

// Executor holds the collaborators shared by every retried call.
type Executor struct {
	observer Observer
	sleep    SleepFunc
	logger   *slog.Logger
	noRetry  []error
}

// NewExecutor creates an executor. observer may be nil.
func NewExecutor(observer Observer, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		observer: observer,
		sleep:    Sleep,
		logger:   logger,
		noRetry:  []error{ErrNonRetryable},
	}
}

// SetSleepFunc replaces the backoff sleep, mainly for tests.
func (e *Executor) SetSleepFunc(fn SleepFunc) {
	e.sleep = fn
}

// NeverRetry registers sentinel errors that stop the loop immediately.
func (e *Executor) NeverRetry(errs ...error) {
	e.noRetry = append(e.noRetry, errs...)
}

func (e *Executor) retryable(p Policy, err error) bool {
	if fault.IsCanceled(err) {
		return false
	}
	for _, target := range e.noRetry {
		if errors.Is(err, target) {
			return false
		}
	}
	if p.ShouldRetry == nil {
		return true
	}
	return p.ShouldRetry(err)
}

// Sleep waits for d unless ctx finishes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run invokes op until it succeeds, the policy stops retrying, or attempts
// run out. The last error is returned unchanged so callers can match it.
func Run[T any](ctx context.Context, e *Executor, p Policy, call Call, op func(context.Context) (T, error)) (T, error) {
	if e == nil {
		e = NewExecutor(nil, nil)
	}
	attempts := max(p.MaxAttempts, 1)
	start := time.Now()

	var zero T
	var last Attempt
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 1 && e.observer != nil {
				e.observer.OnRecovered(call, attempt, time.Since(start))
			}
			return result, nil
		}

		last = Attempt{Call: call, Policy: p.Name, Number: attempt, Err: err}
		stop := attempt == attempts || !e.retryable(p, err)
		if !stop {
			last.Delay = ComputeDelay(attempt, p)
		}
		if e.observer != nil {
			e.observer.OnError(last)
		}
		if stop {
			break
		}

		e.logger.Debug("Retrying call",
			"operation", call.Operation,
			"policy", p.Name,
			"attempt", attempt,
			"delay", last.Delay,
			"error", err,
		)
		if serr := e.sleep(ctx, last.Delay); serr != nil {
			last.Err = errors.Join(serr, err)
			break
		}
	}

	if e.observer != nil {
		e.observer.OnFinalFailure(last)
	}
	return zero, last.Err
}
