// Package wire defines the inter-node message model and its versioned
// binary encoding. The format is the compatibility-sensitive artifact of
// the installation: field order and checksum algorithm must not change
// without bumping the format version.
package wire

import (
	"time"
)

// PayloadType identifies the kind of payload a Message carries.
type PayloadType uint8

// Payload types carried between nodes.
const (
	// PayloadVector carries a batch of per-region movement values.
	PayloadVector PayloadType = 0x01
	// PayloadState carries a reservoir state vector.
	PayloadState PayloadType = 0x02
	// PayloadModelUpdate carries retrained readout weights.
	PayloadModelUpdate PayloadType = 0x03
	// PayloadAck acknowledges receipt of a sequence number.
	PayloadAck PayloadType = 0x04
)

// String returns the wire name of the payload type.
func (pt PayloadType) String() string {
	switch pt {
	case PayloadVector:
		return "VECTOR"
	case PayloadState:
		return "STATE"
	case PayloadModelUpdate:
		return "MODEL_UPDATE"
	case PayloadAck:
		return "ACK"
	default:
		return "UNKNOWN"
	}
}

func (pt PayloadType) valid() bool {
	return pt >= PayloadVector && pt <= PayloadAck
}

// Message is the unit of transfer between adjacent nodes. Sequence numbers
// are per-link and strictly increasing from zero; the payload is opaque to
// the link layer.
type Message struct {
	SourceID      string
	DestinationID string
	Sequence      uint64
	Type          PayloadType
	Payload       []byte
	CreatedAt     time.Time
}

// NewMessage builds a message stamped with the current time.
func NewMessage(src, dst string, seq uint64, pt PayloadType, payload []byte) Message {
	return Message{
		SourceID:      src,
		DestinationID: dst,
		Sequence:      seq,
		Type:          pt,
		Payload:       payload,
		CreatedAt:     time.Now().Truncate(time.Nanosecond),
	}
}

// Ack builds the acknowledgment for this message, addressed back to its
// sender and echoing its sequence number.
func (m Message) Ack() Message {
	return Message{
		SourceID:      m.DestinationID,
		DestinationID: m.SourceID,
		Sequence:      m.Sequence,
		Type:          PayloadAck,
		CreatedAt:     time.Now(),
	}
}
