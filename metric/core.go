package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains pipeline-level metrics shared by every node role.
// Component-specific metrics live next to their component and register
// through the MetricsRegistry.
type Metrics struct {
	// Node metrics
	NodeStatus        *prometheus.GaugeVec
	MessagesReceived  *prometheus.CounterVec
	MessagesForwarded *prometheus.CounterVec
	ProcessingLatency *prometheus.HistogramVec
	ErrorsTotal       *prometheus.CounterVec

	// Link metrics
	LinkRetransmits *prometheus.CounterVec
	LinkDegraded    *prometheus.CounterVec
	LinkDuplicates  *prometheus.CounterVec

	// Telemetry bus metrics
	BusConnected  prometheus.Gauge
	BusPublished  prometheus.Counter
	BusReconnects prometheus.Counter
}

// NewMetrics creates the core pipeline metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		NodeStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "venice",
				Subsystem: "node",
				Name:      "status",
				Help:      "Node lifecycle status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"node"},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "venice",
				Subsystem: "node",
				Name:      "messages_received_total",
				Help:      "Messages delivered in order to a node",
			},
			[]string{"node", "type"},
		),

		MessagesForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "venice",
				Subsystem: "node",
				Name:      "messages_forwarded_total",
				Help:      "Messages forwarded downstream by a node",
			},
			[]string{"node", "type"},
		),

		ProcessingLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "venice",
				Subsystem: "node",
				Name:      "processing_seconds",
				Help:      "Per-message processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node", "operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "venice",
				Subsystem: "node",
				Name:      "errors_total",
				Help:      "Errors by node and class",
			},
			[]string{"node", "class"},
		),

		LinkRetransmits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "venice",
				Subsystem: "link",
				Name:      "retransmits_total",
				Help:      "Datagram retransmissions per link",
			},
			[]string{"link"},
		),

		LinkDegraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "venice",
				Subsystem: "link",
				Name:      "degraded_total",
				Help:      "Times a link exhausted its retry budget",
			},
			[]string{"link"},
		),

		LinkDuplicates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "venice",
				Subsystem: "link",
				Name:      "duplicates_total",
				Help:      "Duplicate datagrams suppressed per link",
			},
			[]string{"link"},
		),

		BusConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "venice",
				Subsystem: "bus",
				Name:      "connected",
				Help:      "Telemetry bus connection status (0=disconnected, 1=connected)",
			},
		),

		BusPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "venice",
				Subsystem: "bus",
				Name:      "published_total",
				Help:      "Telemetry snapshots published to the bus",
			},
		),

		BusReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "venice",
				Subsystem: "bus",
				Name:      "reconnects_total",
				Help:      "Telemetry bus reconnections",
			},
		),
	}
}

// RecordNodeStatus updates a node's lifecycle status gauge.
func (c *Metrics) RecordNodeStatus(node string, status int) {
	c.NodeStatus.WithLabelValues(node).Set(float64(status))
}

// RecordMessageReceived counts an in-order delivery.
func (c *Metrics) RecordMessageReceived(node, messageType string) {
	c.MessagesReceived.WithLabelValues(node, messageType).Inc()
}

// RecordMessageForwarded counts a downstream send.
func (c *Metrics) RecordMessageForwarded(node, messageType string) {
	c.MessagesForwarded.WithLabelValues(node, messageType).Inc()
}

// RecordProcessingLatency records how long one message took to process.
func (c *Metrics) RecordProcessingLatency(node, operation string, d time.Duration) {
	c.ProcessingLatency.WithLabelValues(node, operation).Observe(d.Seconds())
}

// RecordError counts an error by classification.
func (c *Metrics) RecordError(node, class string) {
	c.ErrorsTotal.WithLabelValues(node, class).Inc()
}

// RecordRetransmit counts one retransmission on a link.
func (c *Metrics) RecordRetransmit(link string) {
	c.LinkRetransmits.WithLabelValues(link).Inc()
}

// RecordLinkDegraded counts a retry budget exhaustion on a link.
func (c *Metrics) RecordLinkDegraded(link string) {
	c.LinkDegraded.WithLabelValues(link).Inc()
}

// RecordDuplicate counts a suppressed duplicate on a link.
func (c *Metrics) RecordDuplicate(link string) {
	c.LinkDuplicates.WithLabelValues(link).Inc()
}

// RecordBusStatus updates the telemetry bus connection gauge.
func (c *Metrics) RecordBusStatus(connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	c.BusConnected.Set(v)
}

// RecordBusPublish counts one telemetry publish.
func (c *Metrics) RecordBusPublish() {
	c.BusPublished.Inc()
}

// RecordBusReconnect counts one telemetry bus reconnection.
func (c *Metrics) RecordBusReconnect() {
	c.BusReconnects.Inc()
}
