// Package motion provides the movement-vector side of the pipeline: the
// per-region vector model, scaling of raw motion scores into the actuator
// range, time-of-day encoding, and replayable vector sources.
package motion

import (
	"context"
	"math"
	"time"

	"github.com/otelhan/venice/wire"
)

// Scaled movement value range. 20 is the enforced minimum non-zero
// actuation downstream; 127 the maximum.
const (
	MinScaled = 20.0
	MaxScaled = 127.0
)

// Vector is one region's movement sample for one frame.
type Vector struct {
	RegionID  uint16
	Magnitude float64
	DX        float64
	DY        float64
}

// Batch is one sampling tick's worth of vectors, one per region, plus the
// time-of-day encoding that rides along as a training feature.
type Batch struct {
	FrameIndex uint64
	Timestamp  time.Time
	TSin       float64
	TCos       float64
	Vectors    []Vector
}

// Values returns the per-region magnitudes in region order.
func (b Batch) Values() []float64 {
	out := make([]float64, len(b.Vectors))
	for i, v := range b.Vectors {
		out[i] = v.Magnitude
	}
	return out
}

// Mean returns the mean magnitude across regions, 0 for an empty batch.
func (b Batch) Mean() float64 {
	if len(b.Vectors) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range b.Vectors {
		sum += v.Magnitude
	}
	return sum / float64(len(b.Vectors))
}

// Payload converts the batch to its wire form.
func (b Batch) Payload() wire.VectorPayload {
	regions := make([]wire.RegionValue, len(b.Vectors))
	for i, v := range b.Vectors {
		regions[i] = wire.RegionValue{
			RegionID:  v.RegionID,
			Magnitude: v.Magnitude,
			DX:        v.DX,
			DY:        v.DY,
		}
	}
	return wire.VectorPayload{
		FrameIndex: b.FrameIndex,
		TSin:       b.TSin,
		TCos:       b.TCos,
		Regions:    regions,
	}
}

// BatchFromPayload rebuilds a batch received in a VECTOR message.
func BatchFromPayload(p wire.VectorPayload, createdAt time.Time) Batch {
	vectors := make([]Vector, len(p.Regions))
	for i, r := range p.Regions {
		vectors[i] = Vector{
			RegionID:  r.RegionID,
			Magnitude: r.Magnitude,
			DX:        r.DX,
			DY:        r.DY,
		}
	}
	return Batch{
		FrameIndex: p.FrameIndex,
		Timestamp:  createdAt,
		TSin:       p.TSin,
		TCos:       p.TCos,
		Vectors:    vectors,
	}
}

// TimeEncoding maps a wall-clock time onto the unit circle over one day,
// so midnight-adjacent times encode as neighbors instead of opposites.
func TimeEncoding(t time.Time) (tsin, tcos float64) {
	secs := float64(t.Hour()*3600 + t.Minute()*60 + t.Second())
	phase := 2 * math.Pi * secs / 86400
	return math.Sin(phase), math.Cos(phase)
}

// Scaler maps raw motion scores into [MinScaled, MaxScaled] against a
// running maximum, so the pipeline sees a stable amplitude regardless of
// camera gain or scene distance. Not safe for concurrent use.
type Scaler struct {
	runningMax float64
}

// NewScaler creates a scaler with an initial raw maximum, which keeps
// early quiet frames from mapping noise to full scale. Zero or negative
// picks a small floor.
func NewScaler(initialMax float64) *Scaler {
	if initialMax <= 0 {
		initialMax = 1
	}
	return &Scaler{runningMax: initialMax}
}

// Scale maps one raw score. A raw value of zero scales to MinScaled:
// the actuators' minimum non-zero command, never silence.
func (s *Scaler) Scale(raw float64) float64 {
	if raw < 0 {
		raw = 0
	}
	if raw > s.runningMax {
		s.runningMax = raw
	}
	return MinScaled + (raw/s.runningMax)*(MaxScaled-MinScaled)
}

// ScaleBatch scales every vector magnitude in place.
func (s *Scaler) ScaleBatch(b *Batch) {
	for i := range b.Vectors {
		b.Vectors[i].Magnitude = s.Scale(b.Vectors[i].Magnitude)
	}
}

// Source is a restartable sequence of movement batches, one per sampling
// tick. A gap (missed tick) is transient; consumers just wait for the
// next batch. The channel closes when the source ends or is stopped.
type Source interface {
	Start(ctx context.Context) error
	Batches() <-chan Batch
	Stop(timeout time.Duration) error
}
