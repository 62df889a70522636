package node

import (
	"time"

	"github.com/otelhan/venice/metric"
)

// nodeMetrics wraps the shared node metrics with nil-safe recording.
type nodeMetrics struct {
	node string
	core *metric.Metrics
}

func newNodeMetrics(name string, registry *metric.MetricsRegistry) *nodeMetrics {
	if registry == nil {
		return nil
	}
	return &nodeMetrics{node: name, core: registry.CoreMetrics()}
}

func (m *nodeMetrics) recordStatus(status int) {
	if m == nil {
		return
	}
	m.core.RecordNodeStatus(m.node, status)
}

func (m *nodeMetrics) recordReceived(messageType string) {
	if m == nil {
		return
	}
	m.core.RecordMessageReceived(m.node, messageType)
}

func (m *nodeMetrics) recordForwarded(messageType string) {
	if m == nil {
		return
	}
	m.core.RecordMessageForwarded(m.node, messageType)
}

func (m *nodeMetrics) recordLatency(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.core.RecordProcessingLatency(m.node, operation, d)
}

func (m *nodeMetrics) recordError(class string) {
	if m == nil {
		return
	}
	m.core.RecordError(m.node, class)
}
