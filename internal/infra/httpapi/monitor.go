package httpapi

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Status represents the health state of an upstream API.
type Status int

const (
	StatusHealthy   Status = iota // API is working normally
	StatusDegraded                // API is slow but working
	StatusThrottled               // API is rate limiting
	StatusBlocked                 // API has blocked this client
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for st := StatusHealthy; st <= StatusBlocked; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown api status %q", b)
}

// MonitorStats holds monitoring statistics for an API.
type MonitorStats struct {
	Status           Status        `json:"status"`
	AverageLatency   time.Duration `json:"average_latency"`
	ThrottleCount429 int           `json:"throttle_count_429"`
	ThrottleCount403 int           `json:"throttle_count_403"`
	RequestsLastHour int           `json:"requests_last_hour"`
	FailuresLastHour int           `json:"failures_last_hour"`
	RetryAfter       time.Duration `json:"retry_after"`
	LastThrottledAt  time.Time     `json:"last_throttled_at,omitempty"`
}

// Monitor tracks latency, throttling and request volume of one API.
type Monitor struct {
	mu  sync.RWMutex
	now func() time.Time

	// Response time tracking
	recentLatencies  []time.Duration
	maxLatencyWindow int

	// Throttle tracking
	status429Count    int
	status403Count    int
	throttlePatterns  []string
	lastThrottleTime  time.Time
	retryAfter        time.Duration
	throttleThreshold int

	// Sliding window
	requests []time.Time
	failures []time.Time
	window   time.Duration

	slowResponseThreshold time.Duration
}

// NewMonitor creates a monitor with default thresholds.
func NewMonitor() *Monitor {
	return &Monitor{
		now:              time.Now,
		recentLatencies:  make([]time.Duration, 0, 100),
		maxLatencyWindow: 100,
		throttlePatterns: []string{
			"rate limit exceeded",
			"too many requests",
			"slow down",
		},
		throttleThreshold:     3,
		window:                time.Hour,
		slowResponseThreshold: 3 * time.Second,
	}
}

// SetClock replaces the time source.
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// RecordRequest records a completed request with its latency.
func (m *Monitor) RecordRequest(latency time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > m.maxLatencyWindow {
		m.recentLatencies = m.recentLatencies[1:]
	}

	m.requests = append(prune(m.requests, now.Add(-m.window)), now)
	if failed {
		m.failures = append(prune(m.failures, now.Add(-m.window)), now)
	}
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

// RecordThrottle records a rate limiting (429) or blocking (403) response.
// retryAfter is the server's hint, zero when absent.
func (m *Monitor) RecordThrottle(statusCode int, retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastThrottleTime = m.now()
	switch statusCode {
	case 429:
		m.status429Count++
		if retryAfter <= 0 {
			retryAfter = 60 * time.Second
		}
		m.retryAfter = retryAfter
	case 403:
		m.status403Count++
		m.retryAfter = 10 * time.Minute
	}
}

// DetectThrottlePattern checks if a response body looks like throttling.
func (m *Monitor) DetectThrottlePattern(message string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lower := strings.ToLower(message)
	for _, p := range m.throttlePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Status returns the current health of the API.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Monitor) statusLocked() Status {
	cooling := m.now().Sub(m.lastThrottleTime) < m.retryAfter
	if m.status403Count > 0 && cooling {
		return StatusBlocked
	}
	if m.status429Count >= m.throttleThreshold && cooling {
		return StatusThrottled
	}
	if len(m.recentLatencies) > 10 && m.averageLocked() > m.slowResponseThreshold {
		return StatusDegraded
	}
	return StatusHealthy
}

// RetryAfter returns the remaining cool-down.
func (m *Monitor) RetryAfter() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retryAfterLocked()
}

func (m *Monitor) retryAfterLocked() time.Duration {
	if m.retryAfter <= 0 {
		return 0
	}
	if remaining := m.retryAfter - m.now().Sub(m.lastThrottleTime); remaining > 0 {
		return remaining
	}
	return 0
}

// AverageLatency returns the mean latency of recent requests.
func (m *Monitor) AverageLatency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.averageLocked()
}

func (m *Monitor) averageLocked() time.Duration {
	if len(m.recentLatencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range m.recentLatencies {
		total += l
	}
	return total / time.Duration(len(m.recentLatencies))
}

// Stats returns current monitoring statistics.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-m.window)
	return MonitorStats{
		Status:           m.statusLocked(),
		AverageLatency:   m.averageLocked(),
		ThrottleCount429: m.status429Count,
		ThrottleCount403: m.status403Count,
		RequestsLastHour: len(prune(m.requests, cutoff)),
		FailuresLastHour: len(prune(m.failures, cutoff)),
		RetryAfter:       m.retryAfterLocked(),
		LastThrottledAt:  m.lastThrottleTime,
	}
}
