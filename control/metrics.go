// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for the transport.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "hioload"
	metricsSubsystem = "transport"
)

// Connection directions used as the "direction" label.
const (
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
)

// Metrics holds the transport collectors. A Metrics built with a nil
// registerer still counts but is not exported anywhere.
type Metrics struct {
	MessagesSent      prometheus.Counter
	MessagesReceived  prometheus.Counter
	BytesSent         prometheus.Counter
	BytesReceived     prometheus.Counter
	ConnectionsOpened *prometheus.CounterVec
	ConnectionsClosed *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
	DecodeErrors      prometheus.Counter
	TimersFired       prometheus.Counter
	TasksDispatched   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is
// non-nil. Registering twice on the same registry panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		MessagesSent:     counter("messages_sent_total", "Messages framed and queued for sending"),
		MessagesReceived: counter("messages_received_total", "Messages decoded and delivered to receivers"),
		BytesSent:        counter("bytes_sent_total", "Bytes written to sockets"),
		BytesReceived:    counter("bytes_received_total", "Bytes read from sockets"),
		ConnectionsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_opened_total",
			Help:      "Connections dialled or accepted",
		}, []string{"direction"}),
		ConnectionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections_closed_total",
			Help:      "Connections torn down",
		}, []string{"direction"}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "active_connections",
			Help:      "Connections currently in the connection table",
		}),
		DecodeErrors:    counter("decode_errors_total", "Connections dropped because of a framing violation"),
		TimersFired:     counter("timers_fired_total", "Timer callbacks run on the event loop"),
		TasksDispatched: counter("tasks_dispatched_total", "Work items handed to the worker pool"),
	}
}

// ConnOpened records a new connection.
func (m *Metrics) ConnOpened(direction string) {
	m.ConnectionsOpened.WithLabelValues(direction).Inc()
	m.ActiveConnections.Inc()
}

// ConnClosed records a torn down connection.
func (m *Metrics) ConnClosed(direction string) {
	m.ConnectionsClosed.WithLabelValues(direction).Inc()
	m.ActiveConnections.Dec()
}
