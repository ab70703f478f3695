package wsock

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors a Conn reports against. A
// *Metrics is the one piece of state wsock shares across connections —
// Prometheus counters and histograms are themselves safe for concurrent
// use, so this doesn't reintroduce per-connection locking.
type Metrics struct {
	ConnectionsOpened prometheus.Counter
	ConnectionsClosed *prometheus.CounterVec // labeled by close code
	MessagesReceived  *prometheus.CounterVec // labeled by message type
	MessagesSent      *prometheus.CounterVec
	BytesReceived     prometheus.Counter
	BytesSent         prometheus.Counter
	HandshakeFailures prometheus.Counter
}

// NewMetrics constructs a Metrics with collectors registered under reg.
// Pass prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to publish on the default /metrics
// endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsock_connections_opened_total",
			Help: "Total WebSocket connections that completed the opening handshake.",
		}),
		ConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsock_connections_closed_total",
			Help: "Total WebSocket connections closed, labeled by close code.",
		}, []string{"code"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsock_messages_received_total",
			Help: "Total application messages received, labeled by type.",
		}, []string{"type"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wsock_messages_sent_total",
			Help: "Total application messages sent, labeled by type.",
		}, []string{"type"}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsock_bytes_received_total",
			Help: "Total application payload bytes received.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsock_bytes_sent_total",
			Help: "Total application payload bytes sent.",
		}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wsock_handshake_failures_total",
			Help: "Total opening handshakes that failed validation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ConnectionsOpened, m.ConnectionsClosed,
			m.MessagesReceived, m.MessagesSent,
			m.BytesReceived, m.BytesSent,
			m.HandshakeFailures,
		)
	}
	return m
}
