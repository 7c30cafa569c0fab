package health

import (
	"context"
	"time"

	"github.com/vietddude/chatwatch/internal/connection"
	"github.com/vietddude/chatwatch/internal/core/domain"
	"github.com/vietddude/chatwatch/internal/infra/httpapi"
	"github.com/vietddude/chatwatch/internal/infra/resilience"
	"github.com/vietddude/chatwatch/internal/metrics"
)

// ConnectionSource reports the connection manager state.
type ConnectionSource interface {
	Status() connection.Status
}

// ErrorSource reports resilience statistics.
type ErrorSource interface {
	Stats() resilience.Stats
	RecentErrors(limit int) []resilience.Record
	BreakerStatuses() []resilience.BreakerStatus
}

// APISource reports the health of one upstream API.
type APISource interface {
	Stats() httpapi.MonitorStats
}

// Monitor aggregates health status from the connection manager, the
// resilience layer and the upstream API monitors.
type Monitor struct {
	conn   ConnectionSource
	errors ErrorSource
	apis   map[string]APISource
}

// NewMonitor creates a new health monitor.
func NewMonitor(conn ConnectionSource, errors ErrorSource, apis map[string]APISource) *Monitor {
	if apis == nil {
		apis = make(map[string]APISource)
	}
	return &Monitor{conn: conn, errors: errors, apis: apis}
}

// CheckHealth builds a report. A disconnected channel is critical; a
// connecting channel, an open breaker or a throttled API is degraded.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	st := m.conn.Status()
	report := HealthReport{
		SystemStatus: StatusHealthy,
		Initializing: st.Initializing,
		Channels: map[string]ChannelHealth{
			"chat": channelHealth(st.Chat),
			"aux":  channelHealth(st.Aux),
		},
		APIs:     make(map[string]APIHealth, len(m.apis)),
		Rooms:    make(map[string]int),
		Cache:    st.Cache,
		Breakers: m.errors.BreakerStatuses(),
		Errors:   m.errors.Stats(),
	}

	for _, ch := range report.Channels {
		report.SystemStatus = worse(report.SystemStatus, ch.Status)
	}

	for name, src := range m.apis {
		stats := src.Stats()
		h := APIHealth{Health: StatusHealthy, MonitorStats: stats}
		if stats.Status != httpapi.StatusHealthy {
			h.Health = StatusDegraded
		}
		report.APIs[name] = h
		report.SystemStatus = worse(report.SystemStatus, h.Health)
	}

	for _, b := range report.Breakers {
		if b.State != resilience.BreakerClosed {
			report.SystemStatus = worse(report.SystemStatus, StatusDegraded)
		}
	}

	for _, r := range st.Rooms {
		report.Rooms[string(r.State)]++
	}
	return report
}

// RecentErrors returns the newest recorded errors.
func (m *Monitor) RecentErrors(limit int) []resilience.Record {
	return m.errors.RecentErrors(limit)
}

func channelHealth(cs connection.ChannelStatus) ChannelHealth {
	h := ChannelHealth{Status: StatusHealthy, ChannelStatus: cs}
	switch cs.State {
	case domain.ConnectionDisconnected:
		h.Status = StatusCritical
	case domain.ConnectionConnecting:
		h.Status = StatusDegraded
	}
	return h
}

// Start publishes API status gauges until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.publish()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) publish() {
	for name, src := range m.apis {
		metrics.APIStatus.WithLabelValues(name).Set(float64(src.Stats().Status))
	}
}
