package world

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"voxelnet.ai/internal/metricsx"
)

// Metrics covers the world loop and its message handling. All methods are
// nil-safe.
type Metrics struct {
	StepSeconds   prometheus.Histogram
	LoadedBlocks  prometheus.Gauge
	Messages      *prometheus.CounterVec // type, result
	BlocksSent    prometheus.Counter
	BlockBytes    prometheus.Counter
	BlocksDropped prometheus.Counter
	OutboundFull  prometheus.Counter
	Denied        *prometheus.CounterVec // code
	AuthJobs      *prometheus.CounterVec // kind, result
}

// NewMetrics creates the world metrics. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	const sub = "world"
	m := &Metrics{
		StepSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name:    "step_seconds",
			Help:    "Time spent in one world tick.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		LoadedBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "loaded_blocks",
			Help: "Blocks held in memory.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "messages_total",
			Help: "Client messages handled, by type and result.",
		}, []string{"type", "result"}),
		BlocksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "blocks_sent_total",
			Help: "BLOCK messages queued to peers.",
		}),
		BlockBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "block_bytes_total",
			Help: "Encoded size of BLOCK messages queued to peers.",
		}),
		BlocksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "blocks_dropped_total",
			Help: "Selected blocks that could not be queued.",
		}),
		OutboundFull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "outbound_full_total",
			Help: "Messages dropped because a peer's send queue was full.",
		}),
		Denied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "denied_total",
			Help: "Peers sent ACCESS_DENIED, by code.",
		}, []string{"code"}),
		AuthJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "auth_jobs_total",
			Help: "Account store jobs completed, by kind and result.",
		}, []string{"kind", "result"}),
	}
	if reg != nil {
		m.StepSeconds = metricsx.RegisterOrReuse(reg, m.StepSeconds).(prometheus.Histogram)
		m.LoadedBlocks = metricsx.RegisterOrReuse(reg, m.LoadedBlocks).(prometheus.Gauge)
		m.Messages = metricsx.RegisterOrReuse(reg, m.Messages).(*prometheus.CounterVec)
		m.BlocksSent = metricsx.RegisterOrReuse(reg, m.BlocksSent).(prometheus.Counter)
		m.BlockBytes = metricsx.RegisterOrReuse(reg, m.BlockBytes).(prometheus.Counter)
		m.BlocksDropped = metricsx.RegisterOrReuse(reg, m.BlocksDropped).(prometheus.Counter)
		m.OutboundFull = metricsx.RegisterOrReuse(reg, m.OutboundFull).(prometheus.Counter)
		m.Denied = metricsx.RegisterOrReuse(reg, m.Denied).(*prometheus.CounterVec)
		m.AuthJobs = metricsx.RegisterOrReuse(reg, m.AuthJobs).(*prometheus.CounterVec)
	}
	return m
}

func (m *Metrics) step(d time.Duration, loaded int) {
	if m == nil {
		return
	}
	m.StepSeconds.Observe(d.Seconds())
	m.LoadedBlocks.Set(float64(loaded))
}

func (m *Metrics) message(typ, result string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(typ, result).Inc()
}

func (m *Metrics) blockSent(bytes int) {
	if m == nil {
		return
	}
	m.BlocksSent.Inc()
	m.BlockBytes.Add(float64(bytes))
}

func (m *Metrics) blockDropped() {
	if m == nil {
		return
	}
	m.BlocksDropped.Inc()
}

func (m *Metrics) outboundFull() {
	if m == nil {
		return
	}
	m.OutboundFull.Inc()
}

func (m *Metrics) denied(code string) {
	if m == nil {
		return
	}
	m.Denied.WithLabelValues(code).Inc()
}

func (m *Metrics) auth(kind authKind, res authResult) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case res.err != nil:
		result = "error"
	case kind == authLookup && !res.exists:
		result = "not_found"
	case kind != authLookup && !res.ok:
		result = "rejected"
	}
	m.AuthJobs.WithLabelValues(kind.String(), result).Inc()
}
