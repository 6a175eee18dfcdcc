package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"

	"voxelnet.ai/internal/metricsx"
)

// Metrics for the connection registry. All methods are nil-safe.
type Metrics struct {
	Clients     *prometheus.GaugeVec   // state
	Transitions *prometheus.CounterVec // event
	Rejected    *prometheus.CounterVec // event
	Kicked      prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	const sub = "clients"
	m := &Metrics{
		Clients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "by_state",
			Help: "Connected clients by lifecycle state.",
		}, []string{"state"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "transitions_total",
			Help: "Accepted lifecycle transitions by event.",
		}, []string{"event"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "invalid_transitions_total",
			Help: "Lifecycle events rejected for the current state.",
		}, []string{"event"}),
		Kicked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "lingering_kicked_total",
			Help: "Connections closed for not completing HELLO in time.",
		}),
	}
	if reg != nil {
		m.Clients = metricsx.RegisterOrReuse(reg, m.Clients).(*prometheus.GaugeVec)
		m.Transitions = metricsx.RegisterOrReuse(reg, m.Transitions).(*prometheus.CounterVec)
		m.Rejected = metricsx.RegisterOrReuse(reg, m.Rejected).(*prometheus.CounterVec)
		m.Kicked = metricsx.RegisterOrReuse(reg, m.Kicked).(prometheus.Counter)
	}
	return m
}

func (m *Metrics) moved(from, to State) {
	if m == nil {
		return
	}
	if from != StateInvalid {
		m.Clients.WithLabelValues(from.String()).Dec()
	}
	if to != StateInvalid {
		m.Clients.WithLabelValues(to.String()).Inc()
	}
}

func (m *Metrics) transition(e Event) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(e.String()).Inc()
}

func (m *Metrics) rejected(e Event) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(e.String()).Inc()
}

func (m *Metrics) kicked(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Kicked.Add(float64(n))
}
