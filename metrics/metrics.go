// Package metrics holds the Prometheus collectors of the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chat session metrics
var (
	// EventsTotal tracks the events parsed out of protocol lines, by kind
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbridge_events_total",
			Help: "Total events parsed from chat protocol lines by kind",
		},
		[]string{"kind"},
	)

	// PingsSent tracks keepalive PINGs written by the session
	PingsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbridge_pings_sent_total",
			Help: "Total keepalive PING lines written",
		},
	)

	// Reconnects tracks connection attempts made after a detected disconnect
	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbridge_reconnects_total",
			Help: "Total reconnect attempts after a detected disconnect",
		},
	)

	// Connected is 1 while the chat connection of a session is open, 0
	// otherwise
	Connected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatbridge_connected",
			Help: "Chat connection state by session (1=connected, 0=disconnected)",
		},
		[]string{"session"},
	)
)

// Helix metrics
var (
	// HelixRequestsTotal tracks Helix requests by endpoint and result
	HelixRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbridge_helix_requests_total",
			Help: "Total Helix requests by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	// HelixRequestDuration tracks Helix round trip latency in seconds
	HelixRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatbridge_helix_request_duration_seconds",
			Help:    "Helix request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	// ViewerCount is the last viewer count polled (0 when offline or failed)
	ViewerCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatbridge_viewer_count",
			Help: "Last polled viewer count, 0 when offline or on query failure",
		},
	)
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

// SetConnected sets the Connected gauge of `session` to 1 if connected else 0.
func SetConnected(session string, connected bool) {
	g := Connected.WithLabelValues(session)
	if connected {
		g.Set(1)
		return
	}
	g.Set(0)
}
