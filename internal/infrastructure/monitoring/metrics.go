// Package monitoring exposes Prometheus metrics for the realtime layer.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Channel metrics
	ChannelsActive  prometheus.Gauge
	ChannelsTotal   prometheus.Counter
	ChannelsReaped  prometheus.Counter
	MessagesTotal   *prometheus.CounterVec
	MessagesDropped prometheus.Counter

	// Room metrics
	RoomsActive     prometheus.Gauge
	BroadcastsTotal *prometheus.CounterVec

	// Terminal metrics
	TerminalsActive   prometheus.Gauge
	TerminalsTotal    prometheus.Counter
	TerminalSpawnErrs prometheus.Counter
	TerminalOutputB   prometheus.Counter
}

// NewMetrics creates and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates metrics on a caller-owned registry. Tests use
// this to avoid duplicate registration across cases.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codehive_http_requests_total",
			Help: "Total HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codehive_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ChannelsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "codehive_channels_active",
			Help: "Currently connected channels",
		}),
		ChannelsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "codehive_channels_total",
			Help: "Total channels accepted since start",
		}),
		ChannelsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "codehive_channels_reaped_total",
			Help: "Channels disconnected by the idle reaper",
		}),
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codehive_messages_total",
			Help: "Inbound channel messages by type",
		}, []string{"type"}),
		MessagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "codehive_messages_dropped_total",
			Help: "Outbound frames dropped due to full send queues",
		}),

		RoomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "codehive_rooms_active",
			Help: "Project rooms with at least one occupant",
		}),
		BroadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codehive_broadcasts_total",
			Help: "Room broadcasts relayed by event kind",
		}, []string{"kind"}),

		TerminalsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "codehive_terminals_active",
			Help: "Terminal sessions currently running",
		}),
		TerminalsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "codehive_terminals_total",
			Help: "Terminal sessions spawned since start",
		}),
		TerminalSpawnErrs: factory.NewCounter(prometheus.CounterOpts{
			Name: "codehive_terminal_spawn_failures_total",
			Help: "Terminal sessions that failed to spawn",
		}),
		TerminalOutputB: factory.NewCounter(prometheus.CounterOpts{
			Name: "codehive_terminal_output_bytes_total",
			Help: "Bytes of terminal output delivered to owners",
		}),
	}
}

// RecordHTTPRequest records one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMessage records one inbound channel message.
func (m *Metrics) RecordMessage(msgType string) {
	m.MessagesTotal.WithLabelValues(msgType).Inc()
}

// RecordBroadcast records one relayed room event.
func (m *Metrics) RecordBroadcast(kind string) {
	m.BroadcastsTotal.WithLabelValues(kind).Inc()
}
