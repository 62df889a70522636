package link

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/otelhan/venice/errors"
	"github.com/otelhan/venice/metric"
	"github.com/otelhan/venice/pkg/retry"
	"github.com/otelhan/venice/wire"
)

// Config tunes reliable delivery behavior.
type Config struct {
	// Window bounds how far ahead of the next expected sequence an
	// inbound message may be and still be held for reordering.
	Window int

	// ReorderTimeout is how long a sequence gap may stall delivery
	// before the missing message is abandoned and delivery resumes.
	ReorderTimeout time.Duration

	// Retry is the acknowledgment timeout and retransmit schedule.
	Retry retry.Config
}

// DefaultConfig returns the delivery parameters used by the installation.
func DefaultConfig() Config {
	return Config{
		Window:         1024,
		ReorderTimeout: 2 * time.Second,
		Retry:          retry.Link(),
	}
}

// DegradedEvent reports a link that exhausted its retry budget for one
// message. The pipeline keeps running; supervisors use these to decide
// whether a node needs attention.
type DegradedEvent struct {
	Peer     string
	Sequence uint64
	Err      error
}

// Deps holds the dependencies for an Endpoint.
type Deps struct {
	// NodeID is this node's identity, stamped into every outbound message.
	NodeID string

	// Transport is the datagram carrier. The Endpoint owns it after
	// Initialize and closes it on Stop.
	Transport Transport

	// Peers maps neighbor node IDs to their transport addresses.
	Peers map[string]string

	// Logger for link events. Defaults to slog.Default.
	Logger *slog.Logger

	// Registry for metrics. Nil disables metrics.
	Registry *metric.MetricsRegistry

	// Config tunes delivery. Zero value means DefaultConfig.
	Config Config
}

// peerState is the per-neighbor reliable delivery state: outbound
// sequence allocation and pending acknowledgments, inbound dedup and
// reorder tracking.
type peerState struct {
	mu   sync.Mutex
	addr string

	// outbound
	nextSeq     uint64
	pendingAcks map[uint64]chan struct{}

	// inbound
	expected uint64
	held     map[uint64]wire.Message
	gapSince time.Time
}

// Endpoint provides reliable at-least-once in-order delivery to and from
// a node's neighbors over one shared transport socket.
type Endpoint struct {
	nodeID  string
	cfg     Config
	logger  *slog.Logger
	metrics *linkMetrics

	transport Transport
	peers     map[string]*peerState

	out      chan wire.Message
	degraded chan DegradedEvent

	// deliverMu serializes in-order release to out between the receive
	// loop and the gap scanner.
	deliverMu sync.Mutex

	mu          sync.Mutex
	initialized bool
	started     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewEndpoint creates an endpoint from its dependencies.
func NewEndpoint(deps Deps) (*Endpoint, error) {
	if deps.NodeID == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("node id required"), "Endpoint", "New", "validate dependencies")
	}
	if deps.Transport == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("transport required"), "Endpoint", "New", "validate dependencies")
	}
	if len(deps.Peers) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("at least one peer required"), "Endpoint", "New", "validate dependencies")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := deps.Config
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.ReorderTimeout <= 0 {
		cfg.ReorderTimeout = DefaultConfig().ReorderTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Link()
	}

	e := &Endpoint{
		nodeID:    deps.NodeID,
		cfg:       cfg,
		logger:    logger.With("component", "link", "node", deps.NodeID),
		metrics:   newLinkMetrics(deps.Registry, deps.NodeID),
		transport: deps.Transport,
		peers:     make(map[string]*peerState, len(deps.Peers)),
		out:       make(chan wire.Message, 256),
		degraded:  make(chan DegradedEvent, 16),
	}
	for id, addr := range deps.Peers {
		e.peers[id] = &peerState{
			addr:        addr,
			pendingAcks: make(map[uint64]chan struct{}),
			held:        make(map[uint64]wire.Message),
		}
	}
	return e, nil
}

// Initialize prepares the endpoint. Setup only, no goroutines.
func (e *Endpoint) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Endpoint", "Initialize", "already initialized")
	}
	e.initialized = true
	return nil
}

// Start launches the receive loop and gap scanner.
func (e *Endpoint) Start(ctx context.Context) error {
	e.mu.Lock()
	if !e.initialized {
		return e.unlockErr(errors.ErrNotStarted, "Start", "initialize first")
	}
	if e.started {
		return e.unlockErr(errors.ErrAlreadyStarted, "Start", "already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.started = true
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.run(ctx)
	return nil
}

// Stop cancels the loops, closes the transport, and waits up to timeout
// for the receive loop to drain.
func (e *Endpoint) Stop(timeout time.Duration) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted, "Endpoint", "Stop", "not started")
	}
	e.started = false
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	if err := e.transport.Close(); err != nil {
		e.logger.Warn("transport close failed", "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("receive loop still running after %v", timeout),
			"Endpoint", "Stop", "shutdown timeout")
	}
}

// Deliveries returns the channel of messages released in sequence order.
// It is closed after Stop.
func (e *Endpoint) Deliveries() <-chan wire.Message {
	return e.out
}

// Degraded returns the channel of link degradation events. It is never
// closed; consumers select against their own context.
func (e *Endpoint) Degraded() <-chan DegradedEvent {
	return e.degraded
}

// Send transmits one message to a neighbor and blocks until it is
// acknowledged or the retry budget is exhausted. Concurrent sends to the
// same peer are allowed; each waits on its own sequence number.
func (e *Endpoint) Send(ctx context.Context, peerID string, pt wire.PayloadType, payload []byte) (uint64, error) {
	state, ok := e.peers[peerID]
	if !ok {
		return 0, errors.WrapFatal(
			fmt.Errorf("%w: %s", errors.ErrUnknownPeer, peerID),
			"Endpoint", "Send", "peer lookup")
	}

	state.mu.Lock()
	seq := state.nextSeq
	state.nextSeq++
	ackCh := make(chan struct{})
	state.pendingAcks[seq] = ackCh
	addr := state.addr
	state.mu.Unlock()

	defer func() {
		state.mu.Lock()
		delete(state.pendingAcks, seq)
		state.mu.Unlock()
	}()

	msg := wire.NewMessage(e.nodeID, peerID, seq, pt, payload)
	frame, err := wire.Encode(msg)
	if err != nil {
		return seq, err
	}

	label := e.linkLabel(peerID)
	for attempt := 1; attempt <= e.cfg.Retry.MaxAttempts; attempt++ {
		if err := e.transport.Send(ctx, addr, frame); err != nil {
			// A failed write is equivalent to a lost datagram: wait out
			// the ack timeout and retransmit.
			e.logger.Warn("datagram send failed", "peer", peerID, "seq", seq, "error", err)
		}

		timer := time.NewTimer(e.cfg.Retry.Backoff(attempt))
		select {
		case <-ackCh:
			timer.Stop()
			return seq, nil
		case <-ctx.Done():
			timer.Stop()
			return seq, errors.WrapTransient(ctx.Err(), "Endpoint", "Send", "context canceled")
		case <-timer.C:
			if attempt < e.cfg.Retry.MaxAttempts {
				e.metrics.recordRetransmit(label)
				e.logger.Debug("retransmitting", "peer", peerID, "seq", seq, "attempt", attempt+1)
			}
		}
	}

	err = errors.WrapTransient(
		fmt.Errorf("%w: seq %d to %s after %d attempts",
			errors.ErrLinkDegraded, seq, peerID, e.cfg.Retry.MaxAttempts),
		"Endpoint", "Send", "acknowledgment wait")
	e.metrics.recordDegraded(label)
	e.logger.Warn("link degraded", "peer", peerID, "seq", seq)

	select {
	case e.degraded <- DegradedEvent{Peer: peerID, Sequence: seq, Err: err}:
	default:
	}
	return seq, err
}

func (e *Endpoint) run(ctx context.Context) {
	// e.degraded stays open: Send writes to it from caller goroutines
	// that may still be draining their retry budget after Stop.
	defer func() {
		close(e.out)
		close(e.done)
	}()

	scanEvery := e.cfg.ReorderTimeout / 4
	if scanEvery < 10*time.Millisecond {
		scanEvery = 10 * time.Millisecond
	}
	ticker := time.NewTicker(scanEvery)
	defer ticker.Stop()

	packets := e.transport.Packets()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.scanGaps(ctx)
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			e.handlePacket(ctx, pkt)
		}
	}
}

func (e *Endpoint) handlePacket(ctx context.Context, pkt Packet) {
	msg, err := wire.Decode(pkt.Data)
	if err != nil {
		e.metrics.recordDecodeFailure()
		e.logger.Warn("dropping undecodable datagram", "from", pkt.Addr, "error", err)
		return
	}

	state, ok := e.peers[msg.SourceID]
	if !ok {
		e.logger.Warn("dropping message from unknown peer", "peer", msg.SourceID, "seq", msg.Sequence)
		return
	}

	if msg.Type == wire.PayloadAck {
		state.mu.Lock()
		if ch, pending := state.pendingAcks[msg.Sequence]; pending {
			delete(state.pendingAcks, msg.Sequence)
			close(ch)
		}
		state.mu.Unlock()
		return
	}

	e.deliverMu.Lock()
	released, duplicate, accepted := e.accept(state, msg)
	if accepted {
		// Duplicates are re-acked too: the original ack may have been
		// lost. Only messages outside the reorder window go unacked, so
		// the sender keeps retrying them instead of believing they
		// arrived.
		e.sendAck(ctx, state, msg, pkt.Addr)
	}
	for _, m := range released {
		select {
		case e.out <- m:
		case <-ctx.Done():
		}
	}
	e.deliverMu.Unlock()

	if duplicate {
		e.metrics.recordDuplicate(e.linkLabel(msg.SourceID))
	}
}

// accept files one inbound message and returns the run of messages now
// deliverable in order. accepted reports whether the message belongs to
// the window and deserves an acknowledgment. Caller holds deliverMu.
func (e *Endpoint) accept(state *peerState, msg wire.Message) (released []wire.Message, duplicate, accepted bool) {
	state.mu.Lock()
	defer state.mu.Unlock()

	peer := msg.SourceID
	seq := msg.Sequence

	switch {
	case seq < state.expected:
		return nil, true, true
	case seq >= state.expected+uint64(e.cfg.Window):
		e.logger.Warn("message outside reorder window, dropping",
			"peer", peer, "seq", seq, "expected", state.expected)
		return nil, false, false
	}
	if _, held := state.held[seq]; held {
		return nil, true, true
	}

	state.held[seq] = msg
	released = e.releaseLocked(state)

	if len(state.held) > 0 {
		if state.gapSince.IsZero() {
			state.gapSince = time.Now()
		}
	} else {
		state.gapSince = time.Time{}
	}
	e.metrics.recordReorderDepth(peer, len(state.held))
	return released, false, true
}

// releaseLocked pops the contiguous run starting at expected. Caller
// holds state.mu.
func (e *Endpoint) releaseLocked(state *peerState) []wire.Message {
	var run []wire.Message
	for {
		m, ok := state.held[state.expected]
		if !ok {
			return run
		}
		delete(state.held, state.expected)
		state.expected++
		run = append(run, m)
	}
}

// scanGaps abandons sequence gaps older than the reorder timeout so a
// message lost beyond recovery cannot stall the link.
func (e *Endpoint) scanGaps(ctx context.Context) {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()

	for peer, state := range e.peers {
		state.mu.Lock()
		if len(state.held) == 0 || state.gapSince.IsZero() ||
			time.Since(state.gapSince) < e.cfg.ReorderTimeout {
			state.mu.Unlock()
			continue
		}

		lowest := uint64(0)
		first := true
		for seq := range state.held {
			if first || seq < lowest {
				lowest = seq
				first = false
			}
		}
		skippedFrom := state.expected
		state.expected = lowest
		released := e.releaseLocked(state)
		if len(state.held) > 0 {
			state.gapSince = time.Now()
		} else {
			state.gapSince = time.Time{}
		}
		e.metrics.recordGapSkip(peer)
		e.metrics.recordReorderDepth(peer, len(state.held))
		state.mu.Unlock()

		e.logger.Warn("abandoning sequence gap",
			"peer", peer, "from", skippedFrom, "to", lowest)
		for _, m := range released {
			select {
			case e.out <- m:
			case <-ctx.Done():
			}
		}
	}
}

func (e *Endpoint) sendAck(ctx context.Context, state *peerState, msg wire.Message, from string) {
	// Learn the peer's return address from traffic; the configured
	// address may be stale after a node restart.
	state.mu.Lock()
	state.addr = from
	state.mu.Unlock()

	frame, err := wire.Encode(msg.Ack())
	if err != nil {
		e.logger.Error("ack encode failed", "peer", msg.SourceID, "seq", msg.Sequence, "error", err)
		return
	}
	if err := e.transport.Send(ctx, from, frame); err != nil {
		e.logger.Warn("ack send failed", "peer", msg.SourceID, "seq", msg.Sequence, "error", err)
		return
	}
	e.metrics.recordAckSent(msg.SourceID)
}

func (e *Endpoint) linkLabel(peer string) string {
	return e.nodeID + "->" + peer
}

func (e *Endpoint) unlockErr(sentinel error, method, action string) error {
	e.mu.Unlock()
	return errors.WrapInvalid(sentinel, "Endpoint", method, action)
}
