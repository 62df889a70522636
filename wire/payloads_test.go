package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otelhan/venice/errors"
)

func TestVectorPayloadRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		p    VectorPayload
	}{
		{
			name: "thirty regions",
			p: VectorPayload{
				FrameIndex: 9001,
				TSin:       0.5,
				TCos:       -0.8660254,
				Regions:    makeRegions(30),
			},
		},
		{
			name: "single region",
			p: VectorPayload{
				FrameIndex: 1,
				Regions: []RegionValue{
					{RegionID: 7, Magnitude: 63.5, DX: -2.25, DY: 4.75},
				},
			},
		},
		{
			name: "no regions",
			p:    VectorPayload{FrameIndex: 0, TSin: 1, TCos: 0, Regions: []RegionValue{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeVector(tt.p.Encode())
			require.NoError(t, err)
			if diff := cmp.Diff(tt.p, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStatePayloadRoundTrip(t *testing.T) {
	p := StatePayload{
		NodeID:    "node-res02",
		LastSeq:   77,
		InputMean: 73.5,
		TSin:      -0.25,
		TCos:      0.96824583,
		State:     makeState(64),
	}

	got, err := DecodeState(p.Encode())
	require.NoError(t, err)
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestModelPayloadRoundTrip(t *testing.T) {
	p := ModelPayload{
		ModelID:          "3f1c9a60-0000-4000-8000-000000000001",
		TrainedAt:        1756400000000000000,
		UpdatesPerformed: 12,
		Rows:             3,
		Cols:             65,
		Accuracy:         0.91,
		Precision:        0.88,
		Recall:           0.9,
		F1:               0.889,
		TrainSize:        35,
		TestSize:         15,
	}
	p.Weights = makeState(int(p.Rows) * int(p.Cols))

	got, err := DecodeModel(p.Encode())
	require.NoError(t, err)
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPayloadDecodeRejectsMalformed(t *testing.T) {
	vec := VectorPayload{FrameIndex: 3, Regions: makeRegions(4)}.Encode()
	state := StatePayload{NodeID: "n", State: makeState(8)}.Encode()
	model := ModelPayload{ModelID: "m", Rows: 2, Cols: 3, Weights: makeState(6)}.Encode()

	t.Run("truncated vector", func(t *testing.T) {
		_, err := DecodeVector(vec[:len(vec)-3])
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrDecodeFailed)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("trailing bytes on state", func(t *testing.T) {
		_, err := DecodeState(append(append([]byte(nil), state...), 0x00))
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrDecodeFailed)
	})

	t.Run("truncated model weights", func(t *testing.T) {
		_, err := DecodeModel(model[:len(model)-40])
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrDecodeFailed)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := DecodeVector(nil)
		require.Error(t, err)
		_, err = DecodeState(nil)
		require.Error(t, err)
		_, err = DecodeModel(nil)
		require.Error(t, err)
	})
}

// Payloads travel inside Message frames; the pairing must survive both
// codec layers.
func TestPayloadThroughMessageFrame(t *testing.T) {
	p := StatePayload{
		NodeID:    "node-res01",
		LastSeq:   5,
		InputMean: 40,
		TSin:      0.1,
		TCos:      0.2,
		State:     makeState(16),
	}

	frame, err := Encode(NewMessage("node-res01", "node-res02", 5, PayloadState, p.Encode()))
	require.NoError(t, err)

	msg, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, PayloadState, msg.Type)

	got, err := DecodeState(msg.Payload)
	require.NoError(t, err)
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func makeRegions(n int) []RegionValue {
	out := make([]RegionValue, n)
	for i := range out {
		out[i] = RegionValue{
			RegionID:  uint16(i),
			Magnitude: 20 + float64(i),
			DX:        float64(i) * 0.5,
			DY:        float64(-i) * 0.25,
		}
	}
	return out
}

func makeState(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i%7)/7 - 0.5
	}
	return out
}
