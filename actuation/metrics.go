package actuation

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/otelhan/venice/metric"
)

// mapperMetrics holds Prometheus metrics for the Mapper.
type mapperMetrics struct {
	movesTotal    *prometheus.CounterVec
	droppedWrites *prometheus.CounterVec
	rateLimited   *prometheus.CounterVec
	relaySwitches prometheus.Counter
}

// newMapperMetrics creates and registers Mapper metrics. A nil registry
// yields a nil struct whose record methods are no-ops.
func newMapperMetrics(registry *metric.MetricsRegistry, nodeID string) *mapperMetrics {
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"node": nodeID}
	m := &mapperMetrics{
		movesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "venice",
			Subsystem:   "actuation",
			Name:        "moves_total",
			Help:        "Servo move commands dispatched",
			ConstLabels: labels,
		}, []string{"servo"}),

		droppedWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "venice",
			Subsystem:   "actuation",
			Name:        "dropped_writes_total",
			Help:        "Commands dropped after a driver write failure",
			ConstLabels: labels,
		}, []string{"servo"}),

		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "venice",
			Subsystem:   "actuation",
			Name:        "rate_limited_total",
			Help:        "Commands suppressed by the per-servo rate limit",
			ConstLabels: labels,
		}, []string{"servo"}),

		relaySwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "venice",
			Subsystem:   "actuation",
			Name:        "relay_switches_total",
			Help:        "Wavemaker relay state changes",
			ConstLabels: labels,
		}),
	}

	name := "actuation_" + nodeID
	_ = registry.RegisterCounterVec(name, "moves_total", m.movesTotal)
	_ = registry.RegisterCounterVec(name, "dropped_writes_total", m.droppedWrites)
	_ = registry.RegisterCounterVec(name, "rate_limited_total", m.rateLimited)
	_ = registry.RegisterCounter(name, "relay_switches_total", m.relaySwitches)
	return m
}

func (m *mapperMetrics) recordMove(servo string) {
	if m == nil {
		return
	}
	m.movesTotal.WithLabelValues(servo).Inc()
}

func (m *mapperMetrics) recordDropped(servo string) {
	if m == nil {
		return
	}
	m.droppedWrites.WithLabelValues(servo).Inc()
}

func (m *mapperMetrics) recordRateLimited(servo string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(servo).Inc()
}

func (m *mapperMetrics) recordRelaySwitch() {
	if m == nil {
		return
	}
	m.relaySwitches.Inc()
}
