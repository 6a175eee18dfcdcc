package blocksend

import (
	"github.com/prometheus/client_golang/prometheus"

	"voxelnet.ai/internal/metricsx"
)

// Metrics is shared by every Scheduler of a server. All methods are nil-safe.
type Metrics struct {
	Selected        prometheus.Counter
	EmergeRequests  *prometheus.CounterVec // result: accepted, rejected
	OcclusionCulled prometheus.Counter
	PassesCompleted prometheus.Counter
	PassSeconds     prometheus.Histogram
	WatchdogResets  prometheus.Counter
	ExcessAcks      prometheus.Counter
}

// NewMetrics creates the scheduler metrics. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	const sub = "blocksend"
	m := &Metrics{
		Selected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "selected_total",
			Help: "Blocks selected for sending.",
		}),
		EmergeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "emerge_requests_total",
			Help: "Generation requests issued by the scheduler, by queue result.",
		}, []string{"result"}),
		OcclusionCulled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "occlusion_culled_total",
			Help: "Blocks skipped because they were occluded.",
		}),
		PassesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "passes_completed_total",
			Help: "Full send passes that found nothing new up to the send distance.",
		}),
		PassSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name:    "pass_seconds",
			Help:    "Time taken by a full send pass.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}),
		WatchdogResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "watchdog_resets_total",
			Help: "Send passes restarted by the watchdog.",
		}),
		ExcessAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsx.Namespace, Subsystem: sub,
			Name: "excess_acks_total",
			Help: "Acknowledgments for blocks that were not in flight.",
		}),
	}
	if reg != nil {
		m.Selected = metricsx.RegisterOrReuse(reg, m.Selected).(prometheus.Counter)
		m.EmergeRequests = metricsx.RegisterOrReuse(reg, m.EmergeRequests).(*prometheus.CounterVec)
		m.OcclusionCulled = metricsx.RegisterOrReuse(reg, m.OcclusionCulled).(prometheus.Counter)
		m.PassesCompleted = metricsx.RegisterOrReuse(reg, m.PassesCompleted).(prometheus.Counter)
		m.PassSeconds = metricsx.RegisterOrReuse(reg, m.PassSeconds).(prometheus.Histogram)
		m.WatchdogResets = metricsx.RegisterOrReuse(reg, m.WatchdogResets).(prometheus.Counter)
		m.ExcessAcks = metricsx.RegisterOrReuse(reg, m.ExcessAcks).(prometheus.Counter)
	}
	return m
}

func (m *Metrics) selected(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Selected.Add(float64(n))
}

func (m *Metrics) emerge(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.EmergeRequests.WithLabelValues("accepted").Inc()
	} else {
		m.EmergeRequests.WithLabelValues("rejected").Inc()
	}
}

func (m *Metrics) occluded() {
	if m == nil {
		return
	}
	m.OcclusionCulled.Inc()
}

func (m *Metrics) passCompleted(seconds float64) {
	if m == nil {
		return
	}
	m.PassesCompleted.Inc()
	m.PassSeconds.Observe(seconds)
}

func (m *Metrics) watchdog() {
	if m == nil {
		return
	}
	m.WatchdogResets.Inc()
}

func (m *Metrics) excessAck() {
	if m == nil {
		return
	}
	m.ExcessAcks.Inc()
}
