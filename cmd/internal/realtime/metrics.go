package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "campusconnect_chat"

// Metrics holds the gateway collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	connections     prometheus.Gauge
	frames          *prometheus.CounterVec
	authFailures    *prometheus.CounterVec
	delivered       prometheus.Counter
	dropped         prometheus.Counter
	persistFailures prometheus.Counter
	persisted       prometheus.Counter
}

// NewMetrics registers the gateway collectors on reg.
// registry, when non-nil, backs a rooms gauge read at scrape time.
func NewMetrics(reg prometheus.Registerer, registry *Registry) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Open websocket connections.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_total",
			Help:      "Inbound frames by type and outcome.",
		}, []string{"type", "outcome"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_failures_total",
			Help:      "Rejected join handshakes by reason.",
		}, []string{"reason"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcast_delivered_total",
			Help:      "newMessage frames queued to members.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcast_dropped_total",
			Help:      "newMessage frames dropped for full or closed members.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "persist_failures_total",
			Help:      "Messages the store failed to commit.",
		}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_persisted_total",
			Help:      "Messages committed by the store.",
		}),
	}

	if reg == nil {
		return m
	}
	reg.MustRegister(m.connections, m.frames, m.authFailures, m.delivered, m.dropped, m.persistFailures, m.persisted)
	if registry != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rooms_active",
			Help:      "Non-empty conversation rooms.",
		}, func() float64 { return float64(registry.RoomCount()) }))
	}
	return m
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) frame(typ, outcome string) {
	if m != nil {
		m.frames.WithLabelValues(typ, outcome).Inc()
	}
}

func (m *Metrics) authFailure(reason string) {
	if m != nil {
		m.authFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) broadcast(rep DeliveryReport) {
	if m != nil {
		m.delivered.Add(float64(rep.Delivered))
		m.dropped.Add(float64(rep.Dropped))
	}
}

func (m *Metrics) persist(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.persisted.Inc()
		return
	}
	m.persistFailures.Inc()
}
