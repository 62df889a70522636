package link

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/otelhan/venice/errors"
)

// MemoryNetwork is an in-process datagram fabric with configurable loss
// and delivery jitter. It exists so link behavior under packet loss and
// reordering can be exercised without real sockets.
type MemoryNetwork struct {
	mu       sync.Mutex
	rng      *rand.Rand
	lossRate float64
	maxDelay time.Duration
	nodes    map[string]*MemoryTransport
}

// NewMemoryNetwork creates a fabric seeded for reproducible loss patterns.
func NewMemoryNetwork(seed int64) *MemoryNetwork {
	return &MemoryNetwork{
		rng:   rand.New(rand.NewSource(seed)),
		nodes: make(map[string]*MemoryTransport),
	}
}

// SetLossRate sets the probability in [0,1] that any datagram is dropped.
func (n *MemoryNetwork) SetLossRate(p float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lossRate = p
}

// SetMaxDelay sets the upper bound on random delivery delay. Non-zero
// delay lets independently sent datagrams arrive out of order.
func (n *MemoryNetwork) SetMaxDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.maxDelay = d
}

// Attach joins the fabric under the given address.
func (n *MemoryNetwork) Attach(addr string) *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	t := &MemoryTransport{
		network: n,
		addr:    addr,
		packets: make(chan Packet, 1024),
	}
	n.nodes[addr] = t
	return t
}

func (n *MemoryNetwork) route(from, to string, data []byte) {
	n.mu.Lock()
	if n.lossRate > 0 && n.rng.Float64() < n.lossRate {
		n.mu.Unlock()
		return
	}
	var delay time.Duration
	if n.maxDelay > 0 {
		delay = time.Duration(n.rng.Int63n(int64(n.maxDelay)))
	}
	target := n.nodes[to]
	n.mu.Unlock()

	if target == nil {
		return
	}

	pkt := Packet{Addr: from, Data: append([]byte(nil), data...)}
	if delay == 0 {
		target.deliver(pkt)
		return
	}
	time.AfterFunc(delay, func() { target.deliver(pkt) })
}

// MemoryTransport is one endpoint attached to a MemoryNetwork.
type MemoryTransport struct {
	network *MemoryNetwork
	addr    string
	packets chan Packet

	mu     sync.Mutex
	closed bool
}

// Send routes one datagram through the fabric, subject to its loss rate
// and delay.
func (t *MemoryTransport) Send(_ context.Context, addr string, data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errors.WrapInvalid(errors.ErrSendQueueClosed, "MemoryTransport", "Send", "transport closed")
	}
	t.network.route(t.addr, addr, data)
	return nil
}

// Packets returns the inbound datagram channel.
func (t *MemoryTransport) Packets() <-chan Packet {
	return t.packets
}

// LocalAddr returns the attach address.
func (t *MemoryTransport) LocalAddr() string {
	return t.addr
}

// Close detaches from the fabric.
func (t *MemoryTransport) Close() error {
	t.network.mu.Lock()
	delete(t.network.nodes, t.addr)
	t.network.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.packets)
	}
	return nil
}

func (t *MemoryTransport) deliver(pkt Packet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	// Drop rather than block when the inbound queue is full. The fabric
	// is lossy by contract.
	select {
	case t.packets <- pkt:
	default:
	}
}

