package training

import (
	"time"

	"github.com/google/uuid"

	"github.com/otelhan/venice/wire"
)

// ReadoutModel is one immutable generation of trained readout weights.
// A new generation replaces the old by atomic pointer swap; in-flight
// inference against the previous generation stays valid.
type ReadoutModel struct {
	ID               string
	Weights          [][]float64 // NumClasses × (dim+1), bias last
	TrainedAt        time.Time
	Metrics          Evaluation
	UpdatesPerformed uint64
}

func newModel(weights [][]float64, ev Evaluation, updates uint64) *ReadoutModel {
	return &ReadoutModel{
		ID:               uuid.NewString(),
		Weights:          weights,
		TrainedAt:        time.Now(),
		Metrics:          ev,
		UpdatesPerformed: updates,
	}
}

// Predict classifies one state vector.
func (m *ReadoutModel) Predict(state []float64) int {
	return predict(m.Weights, state)
}

// Readout applies the raw linear mapping without argmax: one score per
// class. The sink uses these as its actuation drive values.
func (m *ReadoutModel) Readout(state []float64) []float64 {
	dim := len(m.Weights[0]) - 1
	out := make([]float64, len(m.Weights))
	for c, w := range m.Weights {
		score := w[dim]
		for j := 0; j < dim && j < len(state); j++ {
			score += w[j] * state[j]
		}
		out[c] = score
	}
	return out
}

// Payload converts the model to its wire form for MODEL_UPDATE messages.
func (m *ReadoutModel) Payload() wire.ModelPayload {
	rows := len(m.Weights)
	cols := 0
	if rows > 0 {
		cols = len(m.Weights[0])
	}
	flat := make([]float64, 0, rows*cols)
	for _, row := range m.Weights {
		flat = append(flat, row...)
	}
	return wire.ModelPayload{
		ModelID:          m.ID,
		TrainedAt:        m.TrainedAt.UnixNano(),
		UpdatesPerformed: m.UpdatesPerformed,
		Rows:             uint16(rows),
		Cols:             uint16(cols),
		Weights:          flat,
		Accuracy:         m.Metrics.Accuracy,
		Precision:        m.Metrics.Precision,
		Recall:           m.Metrics.Recall,
		F1:               m.Metrics.F1,
		TrainSize:        uint32(m.Metrics.TrainSize),
		TestSize:         uint32(m.Metrics.TestSize),
	}
}

// ModelFromPayload rebuilds a model received in a MODEL_UPDATE message.
func ModelFromPayload(p wire.ModelPayload) *ReadoutModel {
	weights := make([][]float64, p.Rows)
	for r := range weights {
		weights[r] = make([]float64, p.Cols)
		copy(weights[r], p.Weights[r*int(p.Cols):(r+1)*int(p.Cols)])
	}
	return &ReadoutModel{
		ID:        p.ModelID,
		Weights:   weights,
		TrainedAt: time.Unix(0, p.TrainedAt),
		Metrics: Evaluation{
			Accuracy:  p.Accuracy,
			Precision: p.Precision,
			Recall:    p.Recall,
			F1:        p.F1,
			TrainSize: int(p.TrainSize),
			TestSize:  int(p.TestSize),
		},
		UpdatesPerformed: p.UpdatesPerformed,
	}
}
