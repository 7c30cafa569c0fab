package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttempts tracks failed attempts per operation and policy
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwatch_retry_attempts_total",
			Help: "Total number of failed attempts seen by the retry loop",
		},
		[]string{"operation", "policy"},
	)

	// RetryRecoveries tracks calls that succeeded after at least one retry
	RetryRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwatch_retry_recoveries_total",
			Help: "Total number of calls that recovered after retrying",
		},
		[]string{"operation"},
	)

	// ErrorsTotal tracks classified errors
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwatch_errors_total",
			Help: "Total number of recorded errors by category",
		},
		[]string{"category", "component"},
	)

	// FinalFailures tracks calls that gave up
	FinalFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwatch_final_failures_total",
			Help: "Total number of calls that exhausted their retry policy",
		},
		[]string{"operation"},
	)

	// BreakerState is 0 closed, 1 open, 2 half-open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatwatch_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	// HTTPLatency tracks upstream HTTP latency
	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatwatch_http_latency_seconds",
			Help:    "Upstream HTTP call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"api", "endpoint"},
	)

	// HTTPErrors tracks upstream HTTP failures
	HTTPErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwatch_http_errors_total",
			Help: "Total number of upstream HTTP failures",
		},
		[]string{"api", "endpoint", "status"},
	)

	// ChannelState is 0 disconnected, 1 connecting, 2 connected
	ChannelState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatwatch_channel_state",
			Help: "Realtime channel connection state (0 disconnected, 1 connecting, 2 connected)",
		},
		[]string{"channel"},
	)

	// ChannelEvents tracks events received per channel and type
	ChannelEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwatch_channel_events_total",
			Help: "Total number of realtime channel events",
		},
		[]string{"channel", "type"},
	)

	// RoomStates tracks how many rooms sit in each lifecycle state
	RoomStates = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatwatch_rooms",
			Help: "Number of rooms per lifecycle state",
		},
		[]string{"state"},
	)

	// HydrationDuration tracks how long a room takes to hydrate
	HydrationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatwatch_hydration_duration_seconds",
			Help:    "Room hydration duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// EmoteCacheSize tracks cached room emote lists
	EmoteCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatwatch_emote_cache_size",
			Help: "Number of room emote lists cached in process",
		},
	)

	// EmoteFetches tracks emote fetches by scope and cache outcome
	EmoteFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwatch_emote_fetches_total",
			Help: "Total number of emote lookups by scope and result",
		},
		[]string{"scope", "result"},
	)

	// DBConnectionPoolUsage tracks database connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatwatch_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)

	// LiveRefreshes tracks live status refresh sweeps
	LiveRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatwatch_live_refreshes_total",
			Help: "Total number of live status refreshes by result",
		},
		[]string{"result"},
	)

	// APIStatus is 0 healthy, 1 degraded, 2 throttled, 3 blocked
	APIStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatwatch_api_status",
			Help: "Upstream API health (0 healthy, 1 degraded, 2 throttled, 3 blocked)",
		},
		[]string{"api"},
	)
)
