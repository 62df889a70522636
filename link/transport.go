package link

import (
	"context"
)

// Packet is one raw datagram received from the transport, tagged with the
// remote address it came from so acknowledgments can be sent back.
type Packet struct {
	Addr string
	Data []byte
}

// Transport is an unreliable datagram carrier. Implementations may drop,
// duplicate, or reorder datagrams; the Endpoint layered on top restores
// at-least-once in-order delivery.
type Transport interface {
	// Send transmits one datagram to addr. A nil error means the datagram
	// was handed to the carrier, not that it arrived.
	Send(ctx context.Context, addr string, data []byte) error

	// Packets returns the channel of inbound datagrams. The channel is
	// closed when the transport closes.
	Packets() <-chan Packet

	// LocalAddr returns the address peers should send to.
	LocalAddr() string

	// Close releases the socket and closes the packet channel.
	Close() error
}
