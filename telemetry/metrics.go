package telemetry

import "github.com/otelhan/venice/metric"

// busMetrics wraps the shared bus metrics so the publisher can record
// without nil checks at every call site. All methods are safe on a nil
// receiver (metrics disabled).
type busMetrics struct {
	core *metric.Metrics
}

func newBusMetrics(registry *metric.MetricsRegistry) *busMetrics {
	if registry == nil {
		return nil
	}
	return &busMetrics{core: registry.CoreMetrics()}
}

func (m *busMetrics) recordStatus(connected bool) {
	if m == nil {
		return
	}
	m.core.RecordBusStatus(connected)
}

func (m *busMetrics) recordPublish() {
	if m == nil {
		return
	}
	m.core.RecordBusPublish()
}

func (m *busMetrics) recordReconnect() {
	if m == nil {
		return
	}
	m.core.RecordBusReconnect()
}
