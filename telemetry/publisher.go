package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/otelhan/venice/errors"
	"github.com/otelhan/venice/metric"
)

// ConnectionStatus represents the state of the bus connection.
type ConnectionStatus int

// Possible connection statuses.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Publisher publishes pipeline snapshots to NATS subjects under a
// common prefix. A nil *Publisher is valid and publishes nothing, so a
// node configured without telemetry can hold a nil handle.
type Publisher struct {
	url     string
	prefix  string
	logger  *slog.Logger
	metrics *busMetrics

	conn   *nats.Conn
	status atomic.Value // stores ConnectionStatus

	connectTimeout time.Duration
	reconnectWait  time.Duration
	maxReconnects  int

	mu     sync.Mutex
	closed bool
}

// Option is a functional option for configuring the Publisher.
type Option func(*Publisher)

// WithPrefix sets the subject prefix (default "venice").
func WithPrefix(prefix string) Option {
	return func(p *Publisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRegistry wires bus metrics into the given registry's core set.
func WithRegistry(registry *metric.MetricsRegistry) Option {
	return func(p *Publisher) {
		p.metrics = newBusMetrics(registry)
	}
}

// WithConnectTimeout sets the initial connection timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.connectTimeout = d
		}
	}
}

// WithReconnectWait sets the wait between reconnection attempts.
func WithReconnectWait(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.reconnectWait = d
		}
	}
}

// WithMaxReconnects sets the reconnection budget (-1 for infinite).
func WithMaxReconnects(n int) Option {
	return func(p *Publisher) {
		p.maxReconnects = n
	}
}

// New creates a Publisher for the given NATS URL. The connection is not
// established until Connect is called.
func New(url string, opts ...Option) (*Publisher, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Publisher", "New", "nats url")
	}

	p := &Publisher{
		url:            url,
		prefix:         "venice",
		logger:         slog.Default(),
		connectTimeout: 5 * time.Second,
		reconnectWait:  2 * time.Second,
		maxReconnects:  -1,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.status.Store(StatusDisconnected)

	return p, nil
}

// Status returns the current connection status.
func (p *Publisher) Status() ConnectionStatus {
	if p == nil {
		return StatusDisconnected
	}
	val := p.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// IsHealthy reports whether the bus connection is established.
func (p *Publisher) IsHealthy() bool {
	return p.Status() == StatusConnected
}

// Connect establishes the bus connection. The underlying client keeps
// reconnecting on its own afterwards, so Connect is called once at
// node startup.
func (p *Publisher) Connect(ctx context.Context) error {
	if p == nil {
		return nil
	}

	p.status.Store(StatusConnecting)
	p.logger.Info("connecting to telemetry bus", "url", p.url)

	opts := []nats.Option{
		nats.MaxReconnects(p.maxReconnects),
		nats.ReconnectWait(p.reconnectWait),
		nats.Timeout(p.connectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(p.handleDisconnect),
		nats.ReconnectHandler(p.handleReconnect),
		nats.ClosedHandler(p.handleClosed),
	}

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(p.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}
		p.mu.Lock()
		p.conn = conn
		p.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			p.status.Store(StatusDisconnected)
			p.metrics.recordStatus(false)
			return errors.WrapTransient(err, "Publisher", "Connect", "establish connection")
		}
	case <-ctx.Done():
		p.status.Store(StatusDisconnected)
		return errors.WrapTransient(ctx.Err(), "Publisher", "Connect", "connection cancelled")
	}

	p.status.Store(StatusConnected)
	p.metrics.recordStatus(true)
	p.logger.Info("telemetry bus connected", "url", p.url)

	return nil
}

// Close drains and closes the bus connection. Safe to call more than
// once and on a nil Publisher.
func (p *Publisher) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if p.conn == nil {
		p.status.Store(StatusDisconnected)
		return nil
	}

	drainDone := make(chan error, 1)
	go func() {
		drainDone <- p.conn.Drain()
	}()

	select {
	case err := <-drainDone:
		if err != nil {
			p.conn.Close()
			p.logger.Warn("telemetry bus drain failed", "error", err)
		}
	case <-ctx.Done():
		p.conn.Close()
	}

	p.status.Store(StatusDisconnected)
	p.metrics.recordStatus(false)

	return nil
}

// PublishState publishes a reservoir state snapshot for a node.
func (p *Publisher) PublishState(ctx context.Context, snap StateSnapshot) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, p.subject("state", snap.Node), snap)
}

// PublishModel publishes a retrained readout announcement.
func (p *Publisher) PublishModel(ctx context.Context, snap ModelSnapshot) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, p.subject("model", snap.Node), snap)
}

// PublishActuation publishes the servo angles and relay state just
// applied by the terminal node.
func (p *Publisher) PublishActuation(ctx context.Context, snap ActuationSnapshot) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, p.subject("actuation", snap.Node), snap)
}

// PublishNodeStatus publishes a node lifecycle transition.
func (p *Publisher) PublishNodeStatus(ctx context.Context, snap NodeStatusSnapshot) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, p.subject("status", snap.Node), snap)
}

// subject builds the snapshot subject: <prefix>.<kind>.<node>.
func (p *Publisher) subject(kind, node string) string {
	return p.prefix + "." + kind + "." + node
}

func (p *Publisher) publish(_ context.Context, subject string, v any) error {
	p.mu.Lock()
	conn := p.conn
	closed := p.closed
	p.mu.Unlock()

	if closed || conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(errors.ErrNoConnection, "Publisher", "Publish", subject)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return errors.WrapInvalid(err, "Publisher", "Publish", "marshal snapshot")
	}

	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Publisher", "Publish", subject)
	}
	p.metrics.recordPublish()

	return nil
}

func (p *Publisher) handleDisconnect(_ *nats.Conn, err error) {
	p.status.Store(StatusReconnecting)
	p.metrics.recordStatus(false)
	p.logger.Warn("telemetry bus disconnected", "error", err)
}

func (p *Publisher) handleReconnect(conn *nats.Conn) {
	p.status.Store(StatusConnected)
	p.metrics.recordStatus(true)
	p.metrics.recordReconnect()
	p.logger.Info("telemetry bus reconnected", "url", conn.ConnectedUrl())
}

func (p *Publisher) handleClosed(_ *nats.Conn) {
	p.status.Store(StatusDisconnected)
	p.metrics.recordStatus(false)
}
