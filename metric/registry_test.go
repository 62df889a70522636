package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry(t *testing.T) {
	r := NewMetricsRegistry()
	require.NotNil(t, r)
	require.NotNil(t, r.PrometheusRegistry())
	require.NotNil(t, r.CoreMetrics())

	// Core metrics must be gatherable without errors.
	_, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
}

func TestRegisterComponentMetrics(t *testing.T) {
	r := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "venice",
		Subsystem: "reservoir",
		Name:      "updates_total",
		Help:      "Reservoir state updates",
	})
	require.NoError(t, r.RegisterCounter("reservoir", "updates_total", counter))

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "venice",
		Subsystem: "training",
		Name:      "buffer_size",
		Help:      "Training examples buffered",
	})
	require.NoError(t, r.RegisterGauge("training", "buffer_size", gauge))

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "venice",
		Subsystem: "actuation",
		Name:      "moves_total",
		Help:      "Servo moves issued",
	}, []string{"servo"})
	require.NoError(t, r.RegisterCounterVec("actuation", "moves_total", vec))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dup_total",
		Help: "duplicate test",
	})
	require.NoError(t, r.RegisterCounter("link", "dup_total", counter))

	other := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dup_total",
		Help: "duplicate test",
	})
	err := r.RegisterCounter("link", "dup_total", other)
	require.Error(t, err)
}

func TestUnregister(t *testing.T) {
	r := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gone_total",
		Help: "unregister test",
	})
	require.NoError(t, r.RegisterCounter("link", "gone_total", counter))

	assert.True(t, r.Unregister("link", "gone_total"))
	assert.False(t, r.Unregister("link", "gone_total"))

	// Slot is free again after unregistering.
	again := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gone_total",
		Help: "unregister test",
	})
	require.NoError(t, r.RegisterCounter("link", "gone_total", again))
}

func TestCoreRecordHelpers(t *testing.T) {
	r := NewMetricsRegistry()
	m := r.CoreMetrics()

	m.RecordNodeStatus("node-res00", 2)
	m.RecordMessageReceived("node-res00", "VECTOR")
	m.RecordMessageForwarded("node-res00", "STATE")
	m.RecordProcessingLatency("node-res00", "update", 3*time.Millisecond)
	m.RecordError("node-res00", "transient")
	m.RecordRetransmit("node-source->node-res00")
	m.RecordLinkDegraded("node-source->node-res00")
	m.RecordDuplicate("node-source->node-res00")
	m.RecordBusStatus(true)
	m.RecordBusPublish()
	m.RecordBusReconnect()

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["venice_node_status"])
	assert.True(t, names["venice_link_retransmits_total"])
	assert.True(t, names["venice_bus_connected"])
}
