package telemetry

import (
	"time"

	"github.com/otelhan/venice/wire"
)

// StateSnapshot is the JSON form of a reservoir state update.
type StateSnapshot struct {
	Node      string    `json:"node"`
	Seq       uint64    `json:"seq"`
	InputMean float64   `json:"input_mean"`
	TSin      float64   `json:"t_sin"`
	TCos      float64   `json:"t_cos"`
	State     []float64 `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// StateSnapshotFrom builds a snapshot from the wire payload.
func StateSnapshotFrom(p wire.StatePayload, at time.Time) StateSnapshot {
	return StateSnapshot{
		Node:      p.NodeID,
		Seq:       p.LastSeq,
		InputMean: p.InputMean,
		TSin:      p.TSin,
		TCos:      p.TCos,
		State:     p.State,
		Timestamp: at,
	}
}

// ModelSnapshot announces a retrained readout and its evaluation.
type ModelSnapshot struct {
	Node      string    `json:"node"`
	ModelID   string    `json:"model_id"`
	Updates   uint64    `json:"updates"`
	Accuracy  float64   `json:"accuracy"`
	Precision float64   `json:"precision"`
	Recall    float64   `json:"recall"`
	F1        float64   `json:"f1"`
	TrainSize uint32    `json:"train_size"`
	TestSize  uint32    `json:"test_size"`
	TrainedAt time.Time `json:"trained_at"`
}

// ModelSnapshotFrom builds a snapshot from the wire payload.
func ModelSnapshotFrom(node string, p wire.ModelPayload) ModelSnapshot {
	return ModelSnapshot{
		Node:      node,
		ModelID:   p.ModelID,
		Updates:   p.UpdatesPerformed,
		Accuracy:  p.Accuracy,
		Precision: p.Precision,
		Recall:    p.Recall,
		F1:        p.F1,
		TrainSize: p.TrainSize,
		TestSize:  p.TestSize,
		TrainedAt: time.Unix(0, p.TrainedAt),
	}
}

// ActuationSnapshot records the servo angles and relay state applied
// on one actuation tick.
type ActuationSnapshot struct {
	Node       string          `json:"node"`
	Angles     map[int]float64 `json:"angles"`
	ClockAngle float64         `json:"clock_angle"`
	Relay      bool            `json:"relay"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NodeStatusSnapshot records a node lifecycle transition.
type NodeStatusSnapshot struct {
	Node      string    `json:"node"`
	Role      string    `json:"role"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}
