package errmon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/chatwatch/internal/infra/resilience/breaker"
	"github.com/vietddude/chatwatch/internal/infra/resilience/fault"
	"github.com/vietddude/chatwatch/internal/infra/resilience/retry"
	"github.com/vietddude/chatwatch/internal/metrics"
)

// DefaultRecentSize bounds the recent-error ring buffer.
const DefaultRecentSize = 100

// Record is one recorded error.
type Record struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	Operation string    `json:"operation,omitempty"`
	Component string    `json:"component,omitempty"`
	User      string    `json:"user,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Code      string    `json:"code,omitempty"`
	Status    int       `json:"status,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Stats summarises recorded outcomes.
type Stats struct {
	Total         int              `json:"total"`
	ByCategory    map[Category]int `json:"by_category"`
	Recoveries    int              `json:"recoveries"`
	FinalFailures int              `json:"final_failures"`
	LastError     *Record          `json:"last_error,omitempty"`
}

// Monitor records errors and recoveries and owns the breaker registry used
// by protected calls. Recording never blocks on anything but its own lock.
type Monitor struct {
	mu            sync.Mutex
	byCategory    map[Category]int
	total         int
	recoveries    int
	finalFailures int
	recent        []Record
	next          int
	size          int

	breakers *breaker.Registry
	retry    *retry.Executor
	logger   *slog.Logger
	now      func() time.Time
}

// NewMonitor creates a monitor whose breakers default to cfg.
func NewMonitor(cfg breaker.Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		byCategory: make(map[Category]int),
		recent:     make([]Record, 0, DefaultRecentSize),
		size:       DefaultRecentSize,
		breakers:   breaker.NewRegistry(cfg),
		logger:     logger.With("component", "errmon"),
		now:        time.Now,
	}
	m.breakers.SetStateChangeCallback(m.onBreakerStateChange)
	m.retry = retry.NewExecutor(m, logger)
	m.retry.NeverRetry(breaker.ErrOpen)
	return m
}

// Breakers exposes the registry for status and maintenance.
func (m *Monitor) Breakers() *breaker.Registry { return m.breakers }

// BreakerStatuses returns a snapshot of every breaker, sorted by name.
func (m *Monitor) BreakerStatuses() []breaker.Status { return m.breakers.Statuses() }

// SetSleepFunc replaces the retry backoff sleep.
func (m *Monitor) SetSleepFunc(fn retry.SleepFunc) { m.retry.SetSleepFunc(fn) }

// SetClock replaces the time source for records and breakers.
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	m.breakers.SetClock(now)
}

// RecordError classifies err, updates counters and returns the record.
func (m *Monitor) RecordError(err error, call retry.Call, attempt int) Record {
	d := fault.Inspect(err)
	if call.Component != "" {
		d.Component = call.Component
	}
	cat := ClassifyDetails(d)

	m.mu.Lock()
	rec := Record{
		ID:        uuid.New().String(),
		Category:  cat,
		Operation: call.Operation,
		Component: d.Component,
		User:      call.User,
		Attempt:   attempt,
		Code:      d.Code,
		Status:    d.Status,
		Message:   d.Message,
		At:        m.now(),
	}
	m.total++
	m.byCategory[cat]++
	if len(m.recent) < m.size {
		m.recent = append(m.recent, rec)
	} else {
		m.recent[m.next] = rec
	}
	m.next = (m.next + 1) % m.size
	m.mu.Unlock()

	metrics.ErrorsTotal.WithLabelValues(string(cat), d.Component).Inc()
	return rec
}

// RecordRecovery notes that a call succeeded after retrying.
func (m *Monitor) RecordRecovery(call retry.Call, attempt int, elapsed time.Duration) {
	m.mu.Lock()
	m.recoveries++
	m.mu.Unlock()

	metrics.RetryRecoveries.WithLabelValues(call.Operation).Inc()
	m.logger.Info("Call recovered",
		"operation", call.Operation,
		"attempt", attempt,
		"elapsed", elapsed,
	)
}

// OnError implements retry.Observer.
func (m *Monitor) OnError(a retry.Attempt) {
	rec := m.RecordError(a.Err, a.Call, a.Number)
	metrics.RetryAttempts.WithLabelValues(a.Call.Operation, a.Policy).Inc()
	m.logger.Debug("Call failed",
		"operation", a.Call.Operation,
		"category", rec.Category,
		"attempt", a.Number,
		"next_delay", a.Delay,
		"error", a.Err,
	)
}

// OnRecovered implements retry.Observer.
func (m *Monitor) OnRecovered(call retry.Call, attempt int, elapsed time.Duration) {
	m.RecordRecovery(call, attempt, elapsed)
}

// OnFinalFailure implements retry.Observer.
func (m *Monitor) OnFinalFailure(a retry.Attempt) {
	m.mu.Lock()
	m.finalFailures++
	m.mu.Unlock()

	metrics.FinalFailures.WithLabelValues(a.Call.Operation).Inc()
	m.logger.Warn("Call failed permanently",
		"operation", a.Call.Operation,
		"policy", a.Policy,
		"attempts", a.Number,
		"error", a.Err,
	)
}

// Stats returns the counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Total:         m.total,
		ByCategory:    make(map[Category]int, len(m.byCategory)),
		Recoveries:    m.recoveries,
		FinalFailures: m.finalFailures,
	}
	for k, v := range m.byCategory {
		s.ByCategory[k] = v
	}
	if len(m.recent) > 0 {
		last := m.recent[(m.next-1+m.size)%m.size]
		s.LastError = &last
	}
	return s
}

// RecentErrors returns up to limit records, newest first. limit <= 0
// returns all retained records.
func (m *Monitor) RecentErrors(limit int) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (m.next - 1 - i + m.size) % m.size
		out = append(out, m.recent[idx])
	}
	return out
}

// Reset clears counters and recent errors. Breakers are left untouched.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byCategory = make(map[Category]int)
	m.total = 0
	m.recoveries = 0
	m.finalFailures = 0
	m.recent = m.recent[:0]
	m.next = 0
}

// ExecuteWithCircuitBreaker runs op under the named breaker, creating it
// with cfg (or the monitor defaults) on first use.
func (m *Monitor) ExecuteWithCircuitBreaker(
	ctx context.Context,
	name string,
	op func(context.Context) error,
	fallback func(context.Context, error) error,
	cfg *breaker.Config,
) error {
	return m.breakers.Get(name, cfg).Execute(ctx, op, fallback)
}

// RemoveBreaker forgets the named breaker and its state gauge.
func (m *Monitor) RemoveBreaker(name string) {
	if m.breakers.Remove(name) {
		metrics.BreakerState.DeleteLabelValues(name)
	}
}

func (m *Monitor) onBreakerStateChange(name string, from, to breaker.State) {
	metrics.BreakerState.WithLabelValues(name).Set(float64(to))
	m.logger.Warn("Circuit breaker state changed",
		"name", name,
		"from", from.String(),
		"to", to.String(),
	)
}
