package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metrics holds the relay's Prometheus collectors, all registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	// Sessions is the number of connected sessions.
	Sessions prometheus.Gauge
	// Rooms is the number of rooms with at least one member.
	Rooms prometheus.Gauge
	// EventsReceived counts inbound events by event name.
	EventsReceived *prometheus.CounterVec
	// EventsSent counts outbound frames queued to a recipient, by event name.
	EventsSent *prometheus.CounterVec
	// EventFailures counts inbound events that failed, by event name.
	EventFailures *prometheus.CounterVec
	// Dropped counts outbound frames discarded because a recipient's outbox was full.
	Dropped prometheus.Counter
}

// NewMetrics creates the relay collectors on reg. A nil reg gets a fresh
// registry carrying the Go runtime and process collectors.
//
// Postcondition: Returns Metrics whose collectors are registered on a single registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_connected",
			Help:      "Number of connected sessions.",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of rooms with at least one member.",
		}),
		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Inbound events processed, by event name.",
		}, []string{"event"}),
		EventsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_sent_total",
			Help:      "Outbound frames queued to recipients, by event name.",
		}, []string{"event"}),
		EventFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_failures_total",
			Help:      "Inbound events that failed, by event name.",
		}, []string{"event"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Outbound frames dropped because the recipient outbox was full.",
		}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
