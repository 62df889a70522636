package link

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/otelhan/venice/metric"
)

// linkMetrics holds Prometheus metrics for an Endpoint. Retransmit,
// degradation, and duplicate counts go to the core pipeline metrics;
// the collectors here are link-layer specific.
type linkMetrics struct {
	core           *metric.Metrics
	decodeFailures prometheus.Counter
	acksSent       *prometheus.CounterVec
	gapSkips       *prometheus.CounterVec
	reorderDepth   *prometheus.GaugeVec
}

// newLinkMetrics creates and registers Endpoint metrics. A nil registry
// yields a nil struct whose record methods are no-ops.
func newLinkMetrics(registry *metric.MetricsRegistry, nodeID string) *linkMetrics {
	if registry == nil {
		return nil
	}

	m := &linkMetrics{
		core: registry.CoreMetrics(),

		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "venice",
			Subsystem:   "link",
			Name:        "decode_failures_total",
			Help:        "Inbound datagrams rejected by the wire codec",
			ConstLabels: prometheus.Labels{"node": nodeID},
		}),

		acksSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "venice",
			Subsystem:   "link",
			Name:        "acks_sent_total",
			Help:        "Acknowledgments sent, including idempotent re-acks",
			ConstLabels: prometheus.Labels{"node": nodeID},
		}, []string{"peer"}),

		gapSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "venice",
			Subsystem:   "link",
			Name:        "gap_skips_total",
			Help:        "Sequence gaps abandoned after the reorder timeout",
			ConstLabels: prometheus.Labels{"node": nodeID},
		}, []string{"peer"}),

		reorderDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "venice",
			Subsystem:   "link",
			Name:        "reorder_depth",
			Help:        "Messages held out of order awaiting a gap fill",
			ConstLabels: prometheus.Labels{"node": nodeID},
		}, []string{"peer"}),
	}

	name := "link_" + nodeID
	_ = registry.RegisterCounter(name, "decode_failures_total", m.decodeFailures)
	_ = registry.RegisterCounterVec(name, "acks_sent_total", m.acksSent)
	_ = registry.RegisterCounterVec(name, "gap_skips_total", m.gapSkips)
	_ = registry.RegisterGaugeVec(name, "reorder_depth", m.reorderDepth)

	return m
}

func (m *linkMetrics) recordRetransmit(link string) {
	if m == nil {
		return
	}
	m.core.RecordRetransmit(link)
}

func (m *linkMetrics) recordDegraded(link string) {
	if m == nil {
		return
	}
	m.core.RecordLinkDegraded(link)
}

func (m *linkMetrics) recordDuplicate(link string) {
	if m == nil {
		return
	}
	m.core.RecordDuplicate(link)
}

func (m *linkMetrics) recordDecodeFailure() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

func (m *linkMetrics) recordAckSent(peer string) {
	if m == nil {
		return
	}
	m.acksSent.WithLabelValues(peer).Inc()
}

func (m *linkMetrics) recordGapSkip(peer string) {
	if m == nil {
		return
	}
	m.gapSkips.WithLabelValues(peer).Inc()
}

func (m *linkMetrics) recordReorderDepth(peer string, depth int) {
	if m == nil {
		return
	}
	m.reorderDepth.WithLabelValues(peer).Set(float64(depth))
}
