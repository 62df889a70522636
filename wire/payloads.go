package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/otelhan/venice/errors"
)

// RegionValue is one region's movement sample inside a VECTOR payload.
type RegionValue struct {
	RegionID  uint16
	Magnitude float64
	DX        float64
	DY        float64
}

// VectorPayload is the body of a PayloadVector message: one batch of
// per-region movement values for a single sampling tick, plus the
// time-of-day encoding that rides along as a training feature.
type VectorPayload struct {
	FrameIndex uint64
	TSin       float64
	TCos       float64
	Regions    []RegionValue
}

// StatePayload is the body of a PayloadState message: a node's reservoir
// state vector after an update, together with the aggregate input
// magnitude and time encoding the trainer derives targets from.
type StatePayload struct {
	NodeID    string
	LastSeq   uint64
	InputMean float64
	TSin      float64
	TCos      float64
	State     []float64
}

// ModelPayload is the body of a PayloadModelUpdate message: retrained
// readout weights with their evaluation metrics.
type ModelPayload struct {
	ModelID          string
	TrainedAt        int64 // unix nanoseconds
	UpdatesPerformed uint64
	Rows             uint16 // output classes
	Cols             uint16 // state dimension + bias
	Weights          []float64
	Accuracy         float64
	Precision        float64
	Recall           float64
	F1               float64
	TrainSize        uint32
	TestSize         uint32
}

// EncodeVector serializes a vector payload.
func (p VectorPayload) Encode() []byte {
	buf := make([]byte, 0, 8+8+8+2+len(p.Regions)*(2+3*8))
	buf = binary.BigEndian.AppendUint64(buf, p.FrameIndex)
	buf = appendFloat(buf, p.TSin)
	buf = appendFloat(buf, p.TCos)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.Regions)))
	for _, r := range p.Regions {
		buf = binary.BigEndian.AppendUint16(buf, r.RegionID)
		buf = appendFloat(buf, r.Magnitude)
		buf = appendFloat(buf, r.DX)
		buf = appendFloat(buf, r.DY)
	}
	return buf
}

// DecodeVector parses a vector payload.
func DecodeVector(data []byte) (VectorPayload, error) {
	var p VectorPayload
	r := reader{buf: data}

	var err error
	if p.FrameIndex, err = r.uint64(); err != nil {
		return p, payloadErr(err, "frame index")
	}
	if p.TSin, err = readFloat(&r); err != nil {
		return p, payloadErr(err, "t_sin")
	}
	if p.TCos, err = readFloat(&r); err != nil {
		return p, payloadErr(err, "t_cos")
	}
	count, err := r.take(2)
	if err != nil {
		return p, payloadErr(err, "region count")
	}
	n := int(binary.BigEndian.Uint16(count))
	p.Regions = make([]RegionValue, n)
	for i := 0; i < n; i++ {
		id, err := r.take(2)
		if err != nil {
			return p, payloadErr(err, "region id")
		}
		p.Regions[i].RegionID = binary.BigEndian.Uint16(id)
		if p.Regions[i].Magnitude, err = readFloat(&r); err != nil {
			return p, payloadErr(err, "magnitude")
		}
		if p.Regions[i].DX, err = readFloat(&r); err != nil {
			return p, payloadErr(err, "dx")
		}
		if p.Regions[i].DY, err = readFloat(&r); err != nil {
			return p, payloadErr(err, "dy")
		}
	}
	if r.remaining() != 0 {
		return p, payloadErr(fmt.Errorf("%d trailing bytes", r.remaining()), "vector payload")
	}
	return p, nil
}

// Encode serializes a state payload.
func (p StatePayload) Encode() []byte {
	buf := make([]byte, 0, 1+len(p.NodeID)+8+3*8+2+len(p.State)*8)
	buf = append(buf, byte(len(p.NodeID)))
	buf = append(buf, p.NodeID...)
	buf = binary.BigEndian.AppendUint64(buf, p.LastSeq)
	buf = appendFloat(buf, p.InputMean)
	buf = appendFloat(buf, p.TSin)
	buf = appendFloat(buf, p.TCos)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.State)))
	for _, v := range p.State {
		buf = appendFloat(buf, v)
	}
	return buf
}

// DecodeState parses a state payload.
func DecodeState(data []byte) (StatePayload, error) {
	var p StatePayload
	r := reader{buf: data}

	idLen, err := r.take(1)
	if err != nil {
		return p, payloadErr(err, "node id length")
	}
	id, err := r.take(int(idLen[0]))
	if err != nil {
		return p, payloadErr(err, "node id")
	}
	p.NodeID = string(id)
	if p.LastSeq, err = r.uint64(); err != nil {
		return p, payloadErr(err, "last sequence")
	}
	if p.InputMean, err = readFloat(&r); err != nil {
		return p, payloadErr(err, "input mean")
	}
	if p.TSin, err = readFloat(&r); err != nil {
		return p, payloadErr(err, "t_sin")
	}
	if p.TCos, err = readFloat(&r); err != nil {
		return p, payloadErr(err, "t_cos")
	}
	count, err := r.take(2)
	if err != nil {
		return p, payloadErr(err, "state dimension")
	}
	n := int(binary.BigEndian.Uint16(count))
	p.State = make([]float64, n)
	for i := 0; i < n; i++ {
		if p.State[i], err = readFloat(&r); err != nil {
			return p, payloadErr(err, "state component")
		}
	}
	if r.remaining() != 0 {
		return p, payloadErr(fmt.Errorf("%d trailing bytes", r.remaining()), "state payload")
	}
	return p, nil
}

// Encode serializes a model payload.
func (p ModelPayload) Encode() []byte {
	buf := make([]byte, 0, 1+len(p.ModelID)+8+8+2+2+len(p.Weights)*8+4*8+4+4)
	buf = append(buf, byte(len(p.ModelID)))
	buf = append(buf, p.ModelID...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(p.TrainedAt))
	buf = binary.BigEndian.AppendUint64(buf, p.UpdatesPerformed)
	buf = binary.BigEndian.AppendUint16(buf, p.Rows)
	buf = binary.BigEndian.AppendUint16(buf, p.Cols)
	for _, w := range p.Weights {
		buf = appendFloat(buf, w)
	}
	buf = appendFloat(buf, p.Accuracy)
	buf = appendFloat(buf, p.Precision)
	buf = appendFloat(buf, p.Recall)
	buf = appendFloat(buf, p.F1)
	buf = binary.BigEndian.AppendUint32(buf, p.TrainSize)
	buf = binary.BigEndian.AppendUint32(buf, p.TestSize)
	return buf
}

// DecodeModel parses a model payload.
func DecodeModel(data []byte) (ModelPayload, error) {
	var p ModelPayload
	r := reader{buf: data}

	idLen, err := r.take(1)
	if err != nil {
		return p, payloadErr(err, "model id length")
	}
	id, err := r.take(int(idLen[0]))
	if err != nil {
		return p, payloadErr(err, "model id")
	}
	p.ModelID = string(id)

	trainedAt, err := r.uint64()
	if err != nil {
		return p, payloadErr(err, "trained at")
	}
	p.TrainedAt = int64(trainedAt)
	if p.UpdatesPerformed, err = r.uint64(); err != nil {
		return p, payloadErr(err, "updates performed")
	}

	dims, err := r.take(4)
	if err != nil {
		return p, payloadErr(err, "weight dimensions")
	}
	p.Rows = binary.BigEndian.Uint16(dims[:2])
	p.Cols = binary.BigEndian.Uint16(dims[2:])

	n := int(p.Rows) * int(p.Cols)
	p.Weights = make([]float64, n)
	for i := 0; i < n; i++ {
		if p.Weights[i], err = readFloat(&r); err != nil {
			return p, payloadErr(err, "weight")
		}
	}
	if p.Accuracy, err = readFloat(&r); err != nil {
		return p, payloadErr(err, "accuracy")
	}
	if p.Precision, err = readFloat(&r); err != nil {
		return p, payloadErr(err, "precision")
	}
	if p.Recall, err = readFloat(&r); err != nil {
		return p, payloadErr(err, "recall")
	}
	if p.F1, err = readFloat(&r); err != nil {
		return p, payloadErr(err, "f1")
	}
	sizes, err := r.take(8)
	if err != nil {
		return p, payloadErr(err, "split sizes")
	}
	p.TrainSize = binary.BigEndian.Uint32(sizes[:4])
	p.TestSize = binary.BigEndian.Uint32(sizes[4:])

	if r.remaining() != 0 {
		return p, payloadErr(fmt.Errorf("%d trailing bytes", r.remaining()), "model payload")
	}
	return p, nil
}

func appendFloat(buf []byte, v float64) []byte {
	return binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
}

func readFloat(r *reader) (float64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func payloadErr(err error, field string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s: %v", errors.ErrDecodeFailed, field, err),
		"WireCodec", "DecodePayload", field)
}
