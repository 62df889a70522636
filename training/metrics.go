package training

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/otelhan/venice/metric"
)

// trainerMetrics holds Prometheus metrics for the Supervisor.
type trainerMetrics struct {
	cyclesTotal   *prometheus.CounterVec
	bufferedGauge prometheus.Gauge
	lastAccuracy  prometheus.Gauge
	lastF1        prometheus.Gauge
}

// newTrainerMetrics creates and registers Supervisor metrics. A nil
// registry yields a nil struct whose record methods are no-ops.
func newTrainerMetrics(registry *metric.MetricsRegistry, nodeID string) *trainerMetrics {
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"node": nodeID}
	m := &trainerMetrics{
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "venice",
			Subsystem:   "training",
			Name:        "cycles_total",
			Help:        "Training cycles by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),

		bufferedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "venice",
			Subsystem:   "training",
			Name:        "examples_buffered",
			Help:        "Examples currently held for training",
			ConstLabels: labels,
		}),

		lastAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "venice",
			Subsystem:   "training",
			Name:        "last_accuracy",
			Help:        "Test accuracy of the most recent model",
			ConstLabels: labels,
		}),

		lastF1: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "venice",
			Subsystem:   "training",
			Name:        "last_f1",
			Help:        "Macro F1 of the most recent model",
			ConstLabels: labels,
		}),
	}

	name := "training_" + nodeID
	_ = registry.RegisterCounterVec(name, "cycles_total", m.cyclesTotal)
	_ = registry.RegisterGauge(name, "examples_buffered", m.bufferedGauge)
	_ = registry.RegisterGauge(name, "last_accuracy", m.lastAccuracy)
	_ = registry.RegisterGauge(name, "last_f1", m.lastF1)
	return m
}

func (m *trainerMetrics) recordCycle(outcome string) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(outcome).Inc()
}

func (m *trainerMetrics) recordBuffered(n int) {
	if m == nil {
		return
	}
	m.bufferedGauge.Set(float64(n))
}

func (m *trainerMetrics) recordEvaluation(ev Evaluation) {
	if m == nil {
		return
	}
	m.lastAccuracy.Set(ev.Accuracy)
	m.lastF1.Set(ev.F1)
}
