package link

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"

	"github.com/otelhan/venice/errors"
	"github.com/otelhan/venice/pkg/retry"
)

// maxDatagramSize bounds a single read. Large enough for a max-size
// encoded message plus header overhead.
const maxDatagramSize = 64 * 1024

// UDPTransport carries datagrams over a single UDP socket. It makes no
// delivery promises beyond what UDP itself provides.
type UDPTransport struct {
	conn    *net.UDPConn
	logger  *slog.Logger
	packets chan Packet

	mu     sync.Mutex
	peers  map[string]*net.UDPAddr
	closed bool
	done   chan struct{}
}

// NewUDPTransport binds a UDP socket on listenAddr and starts the read
// loop. Pass ":0" to let the kernel pick a port. A port still held by a
// previous incarnation of the node is waited out with backoff; any other
// bind failure is immediate.
func NewUDPTransport(listenAddr string, logger *slog.Logger) (*UDPTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, errors.WrapInvalid(err, "UDPTransport", "New", "resolve listen address")
	}
	conn, err := retry.DoWithResult(context.Background(), retry.Persistent(), func() (*net.UDPConn, error) {
		c, bindErr := net.ListenUDP("udp", addr)
		if bindErr != nil && !stderrors.Is(bindErr, syscall.EADDRINUSE) {
			return nil, retry.NonRetryable(bindErr)
		}
		return c, bindErr
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "UDPTransport", "New", "bind socket")
	}

	t := &UDPTransport{
		conn:    conn,
		logger:  logger.With("transport", "udp", "local", conn.LocalAddr().String()),
		packets: make(chan Packet, 256),
		peers:   make(map[string]*net.UDPAddr),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// Send transmits one datagram to addr, resolving and caching the remote
// address on first use.
func (t *UDPTransport) Send(_ context.Context, addr string, data []byte) error {
	remote, err := t.resolve(addr)
	if err != nil {
		return err
	}
	if _, err := t.conn.WriteToUDP(data, remote); err != nil {
		return errors.WrapTransient(err, "UDPTransport", "Send", "write datagram")
	}
	return nil
}

// Packets returns the inbound datagram channel.
func (t *UDPTransport) Packets() <-chan Packet {
	return t.packets
}

// LocalAddr returns the bound socket address.
func (t *UDPTransport) LocalAddr() string {
	return t.conn.LocalAddr().String()
}

// Close shuts the socket down and closes the packet channel.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	err := t.conn.Close()
	<-t.done
	close(t.packets)
	if err != nil {
		return errors.WrapTransient(err, "UDPTransport", "Close", "close socket")
	}
	return nil
}

func (t *UDPTransport) resolve(addr string) (*net.UDPAddr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if remote, ok := t.peers[addr]; ok {
		return remote, nil
	}
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("resolve %q: %w", addr, err),
			"UDPTransport", "Send", "resolve peer address")
	}
	t.peers[addr] = remote
	return remote, nil
}

func (t *UDPTransport) readLoop() {
	defer close(t.done)

	buf := make([]byte, maxDatagramSize)
	for {
		n, remote, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.logger.Warn("udp read failed", "error", err)
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case t.packets <- Packet{Addr: remote.String(), Data: data}:
		default:
			// Inbound channel full. Dropping here is safe: the sender
			// retransmits until acknowledged.
			t.logger.Warn("inbound queue full, dropping datagram", "from", remote.String())
		}
	}
}
