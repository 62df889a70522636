package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/otelhan/venice/errors"
)

// FormatVersion is the current wire format version, carried as the first
// byte of every encoded message. Decoders reject unknown versions.
const FormatVersion = 0x01

// MaxPayloadSize bounds the payload so a message always fits a single
// datagram with headroom for the header and checksum.
const MaxPayloadSize = 60 * 1024

// Encoded layout, all integers big-endian:
//
//	version   u8
//	type      u8
//	srcLen    u16, src bytes
//	dstLen    u16, dst bytes
//	sequence  u64
//	createdAt i64 (unix nanoseconds)
//	payLen    u32, payload bytes
//	checksum  u32 (CRC-32C over everything before it)
const (
	fixedOverhead = 1 + 1 + 2 + 2 + 8 + 8 + 4 + 4
	maxIDLen      = 255
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Encode serializes a message into the versioned binary format.
func Encode(m Message) ([]byte, error) {
	if !m.Type.valid() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: 0x%02x", errors.ErrUnknownPayload, uint8(m.Type)),
			"WireCodec", "Encode", "payload type validation")
	}
	if len(m.SourceID) > maxIDLen || len(m.DestinationID) > maxIDLen {
		return nil, errors.WrapInvalid(
			fmt.Errorf("node id exceeds %d bytes", maxIDLen),
			"WireCodec", "Encode", "id length validation")
	}
	if len(m.Payload) > MaxPayloadSize {
		return nil, errors.WrapInvalid(
			fmt.Errorf("payload %d bytes exceeds max %d", len(m.Payload), MaxPayloadSize),
			"WireCodec", "Encode", "payload size validation")
	}

	size := fixedOverhead + len(m.SourceID) + len(m.DestinationID) + len(m.Payload)
	buf := make([]byte, 0, size)

	buf = append(buf, FormatVersion, byte(m.Type))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.SourceID)))
	buf = append(buf, m.SourceID...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.DestinationID)))
	buf = append(buf, m.DestinationID...)
	buf = binary.BigEndian.AppendUint64(buf, m.Sequence)
	buf = binary.BigEndian.AppendUint64(buf, uint64(m.CreatedAt.UnixNano()))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Payload)))
	buf = append(buf, m.Payload...)

	sum := crc32.Checksum(buf, castagnoli)
	buf = binary.BigEndian.AppendUint32(buf, sum)
	return buf, nil
}

// Decode parses a message from its binary form, validating version,
// payload type, structural completeness, and checksum.
func Decode(data []byte) (Message, error) {
	var m Message

	if len(data) < fixedOverhead {
		return m, errors.WrapInvalid(
			fmt.Errorf("%w: %d bytes", errors.ErrTruncated, len(data)),
			"WireCodec", "Decode", "length check")
	}

	// Checksum first: a corrupted length field must not drive parsing.
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	want := binary.BigEndian.Uint32(trailer)
	if got := crc32.Checksum(body, castagnoli); got != want {
		return m, errors.WrapInvalid(
			fmt.Errorf("%w: got 0x%08x want 0x%08x", errors.ErrChecksumFailed, got, want),
			"WireCodec", "Decode", "checksum verification")
	}

	if body[0] != FormatVersion {
		return m, errors.WrapInvalid(
			fmt.Errorf("%w: 0x%02x", errors.ErrUnknownVersion, body[0]),
			"WireCodec", "Decode", "version check")
	}

	pt := PayloadType(body[1])
	if !pt.valid() {
		return m, errors.WrapInvalid(
			fmt.Errorf("%w: 0x%02x", errors.ErrUnknownPayload, body[1]),
			"WireCodec", "Decode", "payload type check")
	}

	r := reader{buf: body[2:]}
	src, err := r.lengthPrefixed16()
	if err != nil {
		return m, decodeErr(err, "source id")
	}
	dst, err := r.lengthPrefixed16()
	if err != nil {
		return m, decodeErr(err, "destination id")
	}
	seq, err := r.uint64()
	if err != nil {
		return m, decodeErr(err, "sequence number")
	}
	createdAt, err := r.uint64()
	if err != nil {
		return m, decodeErr(err, "timestamp")
	}
	payload, err := r.lengthPrefixed32()
	if err != nil {
		return m, decodeErr(err, "payload")
	}
	if r.remaining() != 0 {
		return m, errors.WrapInvalid(
			fmt.Errorf("%w: %d trailing bytes", errors.ErrDecodeFailed, r.remaining()),
			"WireCodec", "Decode", "trailing data check")
	}

	m = Message{
		SourceID:      string(src),
		DestinationID: string(dst),
		Sequence:      seq,
		Type:          pt,
		CreatedAt:     time.Unix(0, int64(createdAt)),
	}
	if len(payload) > 0 {
		m.Payload = append([]byte(nil), payload...)
	}
	return m, nil
}

func decodeErr(err error, field string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s: %v", errors.ErrTruncated, field, err),
		"WireCodec", "Decode", field)
}

// reader is a bounds-checked cursor over the message body.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) take(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("need %d bytes, have %d", n, r.remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) lengthPrefixed16() ([]byte, error) {
	b, err := r.take(2)
	if err != nil {
		return nil, err
	}
	return r.take(int(binary.BigEndian.Uint16(b)))
}

func (r *reader) lengthPrefixed32() ([]byte, error) {
	b, err := r.take(4)
	if err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(b)
	if n > MaxPayloadSize {
		return nil, fmt.Errorf("payload length %d exceeds max %d", n, MaxPayloadSize)
	}
	return r.take(int(n))
}
