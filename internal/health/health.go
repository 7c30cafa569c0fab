// Package health provides system health monitoring and status reporting.
package health

import (
	"github.com/vietddude/chatwatch/internal/connection"
	"github.com/vietddude/chatwatch/internal/infra/httpapi"
	"github.com/vietddude/chatwatch/internal/infra/resilience"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// worse returns the more severe of two statuses.
func worse(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// ChannelHealth describes one realtime channel.
type ChannelHealth struct {
	Status SystemStatus `json:"status"`
	connection.ChannelStatus
}

// APIHealth describes one upstream REST API.
type APIHealth struct {
	Health SystemStatus `json:"health"`
	httpapi.MonitorStats
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus               `json:"system_status"`
	Initializing bool                       `json:"initializing"`
	Channels     map[string]ChannelHealth   `json:"channels"`
	APIs         map[string]APIHealth       `json:"apis"`
	Rooms        map[string]int             `json:"rooms"`
	Cache        connection.CacheStatus     `json:"cache"`
	Breakers     []resilience.BreakerStatus `json:"breakers"`
	Errors       resilience.Stats           `json:"errors"`
}
