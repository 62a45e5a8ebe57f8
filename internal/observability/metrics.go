package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects relay metrics on a private Prometheus registry so several
// instances can coexist (one per test, one per process).
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.EventDelivered("message:receive")
//	mux.Handle("/metrics", metrics.Handler())
//
// All helper methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Connections is the number of attached websocket handles.
	Connections prometheus.Gauge

	// OnlineUsers is the number of users with at least one live handle.
	OnlineUsers prometheus.Gauge

	// PresenceTransitions counts online/offline transitions.
	// Labels: direction (online|offline)
	PresenceTransitions *prometheus.CounterVec

	// EventsDelivered counts frames enqueued to a handle.
	// Labels: event
	EventsDelivered *prometheus.CounterVec

	// DeliveryFailures counts frames a handle refused.
	// Labels: event
	DeliveryFailures *prometheus.CounterVec

	// DeliveryDuration measures one routing call (resolve + fan-out).
	// Labels: scope (users|channel|all|presence)
	DeliveryDuration *prometheus.HistogramVec

	// InboundFrames counts client frames by event and outcome.
	// Labels: event, result (ok|rejected)
	InboundFrames *prometheus.CounterVec

	// NotifyRequests counts notification API calls.
	// Labels: flow, status (accepted|rejected)
	NotifyRequests *prometheus.CounterVec

	// BackplaneMessages counts envelopes crossing the broker.
	// Labels: direction (published|received), result (ok|error)
	BackplaneMessages *prometheus.CounterVec
}

// NewMetrics creates and registers all relay metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "campuslink_connections",
			Help: "Number of attached websocket connections",
		}),

		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "campuslink_online_users",
			Help: "Number of users with at least one live connection",
		}),

		PresenceTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campuslink_presence_transitions_total",
				Help: "Presence transitions by direction",
			},
			[]string{"direction"},
		),

		EventsDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campuslink_events_delivered_total",
				Help: "Frames enqueued to connections by event",
			},
			[]string{"event"},
		),

		DeliveryFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campuslink_delivery_failures_total",
				Help: "Frames a connection refused by event",
			},
			[]string{"event"},
		),

		DeliveryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "campuslink_delivery_duration_seconds",
				Help:    "Duration of one routing call in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"scope"},
		),

		InboundFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campuslink_inbound_frames_total",
				Help: "Client frames by event and result",
			},
			[]string{"event", "result"},
		),

		NotifyRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campuslink_notify_requests_total",
				Help: "Notification API requests by flow and status",
			},
			[]string{"flow", "status"},
		),

		BackplaneMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campuslink_backplane_messages_total",
				Help: "Backplane envelopes by direction and result",
			},
			[]string{"direction", "result"},
		),
	}
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.Connections.Set(float64(n))
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.OnlineUsers.Set(float64(n))
}

func (m *Metrics) PresenceTransition(direction string) {
	if m == nil {
		return
	}
	m.PresenceTransitions.WithLabelValues(direction).Inc()
}

func (m *Metrics) EventDelivered(event string) {
	if m == nil {
		return
	}
	m.EventsDelivered.WithLabelValues(event).Inc()
}

func (m *Metrics) DeliveryFailed(event string) {
	if m == nil {
		return
	}
	m.DeliveryFailures.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveDelivery(scope string, started time.Time) {
	if m == nil {
		return
	}
	m.DeliveryDuration.WithLabelValues(scope).Observe(time.Since(started).Seconds())
}

func (m *Metrics) InboundFrame(event, result string) {
	if m == nil {
		return
	}
	m.InboundFrames.WithLabelValues(event, result).Inc()
}

func (m *Metrics) NotifyRequest(flow, status string) {
	if m == nil {
		return
	}
	m.NotifyRequests.WithLabelValues(flow, status).Inc()
}

func (m *Metrics) BackplaneMessage(direction, result string) {
	if m == nil {
		return
	}
	m.BackplaneMessages.WithLabelValues(direction, result).Inc()
}
