package telemetry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otelhan/venice/errors"
	"github.com/otelhan/venice/metric"
	"github.com/otelhan/venice/wire"
)

func TestNewRequiresURL(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNewAppliesOptions(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	p, err := New("nats://localhost:4222",
		WithPrefix("installation"),
		WithConnectTimeout(time.Second),
		WithReconnectWait(500*time.Millisecond),
		WithMaxReconnects(3),
		WithRegistry(registry),
	)
	require.NoError(t, err)

	assert.Equal(t, "installation", p.prefix)
	assert.Equal(t, time.Second, p.connectTimeout)
	assert.Equal(t, 500*time.Millisecond, p.reconnectWait)
	assert.Equal(t, 3, p.maxReconnects)
	assert.NotNil(t, p.metrics)
	assert.Equal(t, StatusDisconnected, p.Status())
}

func TestNilPublisherIsNoOp(t *testing.T) {
	var p *Publisher
	ctx := context.Background()

	assert.NoError(t, p.Connect(ctx))
	assert.NoError(t, p.PublishState(ctx, StateSnapshot{Node: "res00"}))
	assert.NoError(t, p.PublishModel(ctx, ModelSnapshot{Node: "output"}))
	assert.NoError(t, p.PublishActuation(ctx, ActuationSnapshot{Node: "output"}))
	assert.NoError(t, p.PublishNodeStatus(ctx, NodeStatusSnapshot{Node: "res00"}))
	assert.NoError(t, p.Close(ctx))
	assert.Equal(t, StatusDisconnected, p.Status())
	assert.False(t, p.IsHealthy())
}

func TestPublishWithoutConnection(t *testing.T) {
	p, err := New("nats://localhost:4222")
	require.NoError(t, err)

	err = p.PublishState(context.Background(), StateSnapshot{Node: "res00"})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestCloseIsIdempotent(t *testing.T) {
	p, err := New("nats://localhost:4222")
	require.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, p.Close(ctx))
	assert.NoError(t, p.Close(ctx))
	assert.Equal(t, StatusDisconnected, p.Status())
}

func TestSnapshotSubjects(t *testing.T) {
	p, err := New("nats://localhost:4222", WithPrefix("venice"))
	require.NoError(t, err)

	assert.Equal(t, "venice.state.node-res00", p.subject("state", "node-res00"))
	assert.Equal(t, "venice.model.node-res01", p.subject("model", "node-res01"))
	assert.Equal(t, "venice.actuation.node-output", p.subject("actuation", "node-output"))
	assert.Equal(t, "venice.status.node-input", p.subject("status", "node-input"))
}

func TestConnectionStatusStrings(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestStateSnapshotFrom(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	snap := StateSnapshotFrom(wire.StatePayload{
		NodeID:    "res01",
		LastSeq:   42,
		InputMean: 63.5,
		TSin:      0.7,
		TCos:      -0.7,
		State:     []float64{0.1, -0.2},
	}, at)

	assert.Equal(t, "res01", snap.Node)
	assert.Equal(t, uint64(42), snap.Seq)
	assert.Equal(t, 63.5, snap.InputMean)
	assert.Equal(t, []float64{0.1, -0.2}, snap.State)
	assert.Equal(t, at, snap.Timestamp)
}

func TestModelSnapshotFrom(t *testing.T) {
	trained := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	snap := ModelSnapshotFrom("output", wire.ModelPayload{
		ModelID:          "m-1",
		TrainedAt:        trained.UnixNano(),
		UpdatesPerformed: 7,
		Accuracy:         0.93,
		F1:               0.91,
		TrainSize:        84,
		TestSize:         36,
	})

	assert.Equal(t, "output", snap.Node)
	assert.Equal(t, "m-1", snap.ModelID)
	assert.Equal(t, uint64(7), snap.Updates)
	assert.Equal(t, 0.93, snap.Accuracy)
	assert.True(t, trained.Equal(snap.TrainedAt))
}

func TestSnapshotJSONShape(t *testing.T) {
	snap := ActuationSnapshot{
		Node:       "output",
		Angles:     map[int]float64{1: -150, 2: 0, 3: 150},
		ClockAngle: -90,
		Relay:      true,
		Timestamp:  time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "angles")
	assert.Contains(t, decoded, "clock_angle")
	assert.Equal(t, true, decoded["relay"])
	assert.Equal(t, "output", decoded["node"])
}
