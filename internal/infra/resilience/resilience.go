// Package resilience protects outbound calls with retry and circuit breaking.
//
// This package offers:
//   - Named retry presets with exponential backoff and jitter
//   - Per-operation circuit breakers with a sliding error-rate window
//   - Error classification and outcome statistics
//
// # Quick Start
//
//	import "github.com/vietddude/chatwatch/internal/infra/resilience"
//
//	monitor := resilience.NewMonitor(resilience.DefaultBreakerConfig(), logger)
//
//	msgs, err := resilience.Execute(ctx, monitor, resilience.Options{
//	    Operation: "kick.initial_messages",
//	    Component: "api",
//	    Policy:    resilience.PolicyAPI,
//	}, func(ctx context.Context) (domain.InitialMessages, error) {
//	    return client.GetInitialMessages(ctx, room)
//	})
//
// # Package Structure
//
//   - fault/   - Error normalisation (codes, HTTP status, component tags)
//   - retry/   - Backoff calculation, presets, retry loop
//   - breaker/ - Circuit breaker and registry
//   - errmon/  - Classification, statistics, protected execution
//
// Most types are re-exported at the root level for convenience.
package resilience

import (
	"context"
	"log/slog"

	"github.com/vietddude/chatwatch/internal/infra/resilience/breaker"
	"github.com/vietddude/chatwatch/internal/infra/resilience/errmon"
	"github.com/vietddude/chatwatch/internal/infra/resilience/fault"
	"github.com/vietddude/chatwatch/internal/infra/resilience/retry"
)

// =============================================================================
// Re-exported types from errmon package
// =============================================================================

// Monitor records outcomes and owns the breaker registry.
type Monitor = errmon.Monitor

// Options describe a protected call.
type Options = errmon.Options

// Category is the error taxonomy.
type Category = errmon.Category

// Call identifies the operation an error belongs to.
type Call = retry.Call

// Record is one recorded error.
type Record = errmon.Record

// Stats summarises recorded outcomes.
type Stats = errmon.Stats

// Component tags
const (
	ComponentWebsocket = errmon.ComponentWebsocket
	Component7TV       = errmon.Component7TV
	ComponentAPI       = errmon.ComponentAPI
	ComponentStorage   = errmon.ComponentStorage
)

// NewMonitor creates a monitor whose breakers default to cfg.
func NewMonitor(cfg BreakerConfig, logger *slog.Logger) *Monitor {
	return errmon.NewMonitor(cfg, logger)
}

// Execute runs op under retry and the named circuit breaker.
func Execute[T any](ctx context.Context, m *Monitor, opts Options, op func(context.Context) (T, error)) (T, error) {
	return errmon.Execute(ctx, m, opts, op)
}

// ExecuteWithFallback is Execute with a fallback for the final failure.
func ExecuteWithFallback[T any](
	ctx context.Context,
	m *Monitor,
	opts Options,
	op func(context.Context) (T, error),
	fallback func(context.Context, error) (T, error),
) (T, error) {
	return errmon.ExecuteWithFallback(ctx, m, opts, op, fallback)
}

// BreakerName returns the breaker name for an operation scoped to key.
func BreakerName(operation, key string) string {
	return errmon.BreakerName(operation, key)
}

// Classify maps err to a category.
func Classify(err error, component string) Category {
	return errmon.Classify(err, component)
}

// =============================================================================
// Re-exported types from breaker package
// =============================================================================

// CircuitBreaker guards a single named operation.
type CircuitBreaker = breaker.CircuitBreaker

// BreakerConfig holds breaker thresholds.
type BreakerConfig = breaker.Config

// BreakerStatus is a breaker snapshot.
type BreakerStatus = breaker.Status

// BreakerState is CLOSED, OPEN or HALF_OPEN.
type BreakerState = breaker.State

// Breaker states
const (
	BreakerClosed   = breaker.StateClosed
	BreakerOpen     = breaker.StateOpen
	BreakerHalfOpen = breaker.StateHalfOpen
)

// ErrCircuitOpen is returned when a breaker rejects a call.
var ErrCircuitOpen = breaker.ErrOpen

// DefaultBreakerConfig returns the stock thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return breaker.DefaultConfig()
}

// =============================================================================
// Re-exported types from retry package
// =============================================================================

// Policy is a named retry preset.
type Policy = retry.Policy

// Retry presets
var (
	PolicyNetwork           = retry.Network
	PolicyAPI               = retry.API
	PolicyRealtimeChannel   = retry.RealtimeChannel
	PolicyThirdPartyService = retry.ThirdPartyService
	PolicyLocalStorage      = retry.LocalStorage
	PolicyDefault           = retry.Default
)

// SleepFunc suspends for a duration or until the context is done.
type SleepFunc = retry.SleepFunc

// =============================================================================
// Re-exported helpers from fault package
// =============================================================================

// Tag attaches a component tag to err.
func Tag(err error, component string) error {
	return fault.Tag(err, component)
}
