package emerge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"voxelnet.ai/internal/metricsx"
)

// Metrics for the emerge queue. All methods are nil-safe.
type Metrics struct {
	Requests  *prometheus.CounterVec // result: accepted, rejected
	QueueLen  prometheus.Gauge
	Generated prometheus.Counter
	Seconds   prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	const sub = "emerge"
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "requests_total",
			Help: "Emerge requests by queue result.",
		}, []string{"result"}),
		QueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "queue_length",
			Help: "Blocks queued or being generated.",
		}),
		Generated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "generated_total",
			Help: "Blocks generated by emerge workers.",
		}),
		Seconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name:    "generate_seconds",
			Help:    "Time spent generating one block.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
	if reg != nil {
		m.Requests = metricsx.RegisterOrReuse(reg, m.Requests).(*prometheus.CounterVec)
		m.QueueLen = metricsx.RegisterOrReuse(reg, m.QueueLen).(prometheus.Gauge)
		m.Generated = metricsx.RegisterOrReuse(reg, m.Generated).(prometheus.Counter)
		m.Seconds = metricsx.RegisterOrReuse(reg, m.Seconds).(prometheus.Histogram)
	}
	return m
}

func (m *Metrics) enqueue(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Requests.WithLabelValues("accepted").Inc()
	} else {
		m.Requests.WithLabelValues("rejected").Inc()
	}
}

func (m *Metrics) queueLen(n int) {
	if m == nil {
		return
	}
	m.QueueLen.Set(float64(n))
}

func (m *Metrics) generated(d time.Duration) {
	if m == nil {
		return
	}
	m.Generated.Inc()
	m.Seconds.Observe(d.Seconds())
}
