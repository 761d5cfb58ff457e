package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery scopes used as the scope label.
const (
	ScopeConnection = "connection"
	ScopeRoom       = "room"
	ScopeAll        = "all"
)

// Signal outcomes used as the outcome label.
const (
	OutcomeDelivered = "delivered"
	OutcomeMissed    = "missed"
)

// Metrics holds the realtime collectors on a private registry.
// ARCHITECTURAL DISCOVERY: A private registry per instance keeps parallel tests
// from colliding on the global default registerer
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections prometheus.Gauge
	peers       prometheus.Gauge
	inbound     *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	signals     *prometheus.CounterVec
	rateLimited prometheus.Counter
}

// New creates and registers every collector, plus the Go runtime and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vclassroom",
			Name:      "connections",
			Help:      "Live transport sessions.",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vclassroom",
			Name:      "signaling_peers",
			Help:      "Registered signaling peers.",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vclassroom",
			Name:      "inbound_events_total",
			Help:      "Inbound socket events by name.",
		}, []string{"event"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vclassroom",
			Name:      "outbound_deliveries_total",
			Help:      "Outbound events queued to a connection, by broadcast scope.",
		}, []string{"scope"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vclassroom",
			Name:      "dropped_deliveries_total",
			Help:      "Outbound events that could not be queued, by broadcast scope.",
		}, []string{"scope"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vclassroom",
			Name:      "relayed_signals_total",
			Help:      "Relayed signaling messages by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vclassroom",
			Name:      "rate_limited_events_total",
			Help:      "Inbound events dropped by the per-connection rate limit.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections, m.peers, m.inbound, m.delivered, m.dropped, m.signals, m.rateLimited,
	)
	return m
}

// Handler exposes the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer returns the underlying registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) SetPeers(n int) {
	if m != nil {
		m.peers.Set(float64(n))
	}
}

// InboundEvent counts one inbound event. Callers pass "unknown" for names
// outside the event table so label cardinality stays bounded.
func (m *Metrics) InboundEvent(event string) {
	if m != nil {
		m.inbound.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Delivered(scope string) {
	if m != nil {
		m.delivered.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) Dropped(scope string) {
	if m != nil {
		m.dropped.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) Signal(delivered bool) {
	if m == nil {
		return
	}
	outcome := OutcomeMissed
	if delivered {
		outcome = OutcomeDelivered
	}
	m.signals.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}
