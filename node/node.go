package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/otelhan/venice/actuation"
	"github.com/otelhan/venice/config"
	"github.com/otelhan/venice/errors"
	"github.com/otelhan/venice/link"
	"github.com/otelhan/venice/metric"
	"github.com/otelhan/venice/motion"
	"github.com/otelhan/venice/reservoir"
	"github.com/otelhan/venice/telemetry"
	"github.com/otelhan/venice/topology"
	"github.com/otelhan/venice/training"
	"github.com/otelhan/venice/wire"
)

// outQueueSize bounds the outbound send queue. Overflow drops the
// newest message; the hold-and-re-emit tick recovers the pipeline.
const outQueueSize = 64

// Deps holds the dependencies for a Node. Config is required; the rest
// default from it when nil.
type Deps struct {
	Config *config.Config
	Logger *slog.Logger

	// Registry enables metrics. Nil disables them.
	Registry *metric.MetricsRegistry

	// Transport overrides the UDP transport bound to this node's
	// topology address. Tests inject an in-memory transport here.
	Transport link.Transport

	// Driver is the actuator interface, required for the sink role.
	Driver actuation.Driver

	// Source overrides the configured motion vector source on the
	// origin node.
	Source motion.Source

	// Publisher optionally mirrors pipeline snapshots onto the
	// telemetry bus. Nil publishes nothing.
	Publisher *telemetry.Publisher
}

type outbound struct {
	peer string
	pt   wire.PayloadType
	data []byte
}

// heldState is the last valid reservoir output, kept for re-emission
// when the inbound link degrades.
type heldState struct {
	state     []float64
	inputMean float64
	tsin      float64
	tcos      float64
	seq       uint64
}

// Node is one process of the installation chain.
type Node struct {
	name       string
	router     *topology.Router
	ep         *link.Endpoint
	res        *reservoir.Reservoir
	sup        *training.Supervisor
	mapper     *actuation.Mapper
	source     motion.Source
	pub        *telemetry.Publisher
	logger     *slog.Logger
	metrics    *nodeMetrics
	thresholds training.Thresholds

	// relay drives the wavemaker from a relay node; only the sink owns a
	// full mapper.
	relay          actuation.Driver
	relayThreshold float64

	// reemitInterval is the scheduling tick at which a stalled node
	// re-emits its held state.
	reemitInterval time.Duration

	outbox      chan outbound
	state       atomic.Int32
	lastForward atomic.Int64 // unix nanos of the last successful send

	heldMu sync.Mutex
	held   *heldState

	model atomic.Pointer[training.ReadoutModel]

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New assembles a node for the role its config assigns it.
func New(deps Deps) (*Node, error) {
	if deps.Config == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Node", "New", "config required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg := deps.Config

	nodes, err := cfg.TopologyNodes()
	if err != nil {
		return nil, err
	}
	router, err := topology.NewRouter(cfg.Node.Name, nodes, cfg.TopologyEdges())
	if err != nil {
		return nil, err
	}

	logger := deps.Logger.With("node", cfg.Node.Name, "role", string(router.Role()))

	transport := deps.Transport
	if transport == nil {
		transport, err = link.NewUDPTransport(router.Self().ListenAddr, logger)
		if err != nil {
			return nil, err
		}
	}

	ep, err := link.NewEndpoint(link.Deps{
		NodeID:    cfg.Node.Name,
		Transport: transport,
		Peers:     router.Peers(),
		Logger:    logger,
		Registry:  deps.Registry,
		Config:    cfg.LinkSettings(),
	})
	if err != nil {
		return nil, err
	}

	n := &Node{
		name:           cfg.Node.Name,
		router:         router,
		ep:             ep,
		pub:            deps.Publisher,
		logger:         logger,
		metrics:        newNodeMetrics(cfg.Node.Name, deps.Registry),
		thresholds:     cfg.Thresholds(),
		reemitInterval: time.Duration(cfg.Source.Tick),
		outbox:         make(chan outbound, outQueueSize),
	}
	if n.reemitInterval <= 0 {
		n.reemitInterval = time.Second
	}

	switch router.Role() {
	case topology.RoleSource, topology.RoleBuilder:
		n.source = deps.Source
		if n.source == nil {
			n.source, err = buildSource(cfg, logger)
			if err != nil {
				return nil, err
			}
		}
	default:
		n.res, err = reservoir.New(cfg.Reservoir.Dimension, cfg.Reservoir.LeakRate, cfg.Reservoir.Seed)
		if err != nil {
			return nil, err
		}
	}

	if router.Role() == topology.RoleTrainer {
		n.sup = training.NewSupervisor(training.Deps{
			NodeID:   cfg.Node.Name,
			Logger:   logger,
			Registry: deps.Registry,
			Config:   cfg.TrainingSettings(),
			Publish:  n.publishModel,
		})
	}

	switch router.Role() {
	case topology.RoleSink:
		if deps.Driver == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: sink role needs an actuator driver", errors.ErrMissingConfig),
				"Node", "New", "validate dependencies")
		}
		n.mapper, err = actuation.NewMapper(actuation.Deps{
			NodeID:   cfg.Node.Name,
			Driver:   deps.Driver,
			Logger:   logger,
			Registry: deps.Registry,
			Config:   cfg.ActuationSettings(),
		})
		if err != nil {
			return nil, err
		}
	case topology.RoleRelay, topology.RoleTrainer:
		// A relay wired to the wavemaker controller switches the motor
		// from observed activity while the state travels on downstream.
		if deps.Driver != nil {
			n.relay = deps.Driver
			n.relayThreshold = cfg.Actuation.RelayThreshold
		}
	}

	n.state.Store(int32(reservoir.StateIdle))

	return n, nil
}

func buildSource(cfg *config.Config, logger *slog.Logger) (motion.Source, error) {
	switch cfg.Source.Kind {
	case config.SourceCSV:
		return motion.NewCSVSource(cfg.Source.Path, time.Duration(cfg.Source.Tick), cfg.Source.Loop, logger), nil
	case config.SourceSim:
		return motion.NewSimSource(cfg.Source.Regions, time.Duration(cfg.Source.Tick), cfg.Source.Seed), nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: source kind %q", errors.ErrInvalidConfig, cfg.Source.Kind),
			"Node", "New", "build source")
	}
}

// Name returns the node's topology name.
func (n *Node) Name() string { return n.name }

// Role returns the node's pipeline role.
func (n *Node) Role() topology.Role { return n.router.Role() }

// ProcessState returns the node's current lifecycle state.
func (n *Node) ProcessState() reservoir.ProcessState {
	return reservoir.ProcessState(n.state.Load())
}

// Model returns the readout model this node currently holds, nil before
// the first MODEL_UPDATE arrives.
func (n *Node) Model() *training.ReadoutModel {
	if n.sup != nil {
		return n.sup.Model()
	}
	return n.model.Load()
}

// Initialize prepares the link endpoint.
func (n *Node) Initialize() error {
	return n.ep.Initialize()
}

// Start launches the node's tasks. It does not block; use Wait to
// observe task failure.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Node", "Start", "run node")
	}
	n.started = true

	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	group, ctx := errgroup.WithContext(ctx)
	n.group = group
	n.mu.Unlock()

	if err := n.ep.Start(ctx); err != nil {
		return err
	}
	if n.sup != nil {
		if err := n.sup.Start(ctx); err != nil {
			return err
		}
	}

	group.Go(func() error { return n.sendLoop(ctx) })
	group.Go(func() error { return n.degradedLoop(ctx) })

	if n.source != nil {
		if err := n.source.Start(ctx); err != nil {
			return err
		}
		group.Go(func() error { return n.sourceLoop(ctx) })
	} else {
		group.Go(func() error { return n.receiveLoop(ctx) })
		group.Go(func() error { return n.reemitLoop(ctx) })
	}
	if n.mapper != nil {
		group.Go(func() error { return n.clockLoop(ctx) })
	}

	n.setState(reservoir.StateAwaitingInput)
	n.logger.Info("node started", "chain", n.router.Chain(), "ring", n.router.IsRing())

	return nil
}

// Wait blocks until the node's tasks exit.
func (n *Node) Wait() error {
	n.mu.Lock()
	group := n.group
	n.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop cancels the node's tasks and releases its resources.
func (n *Node) Stop(timeout time.Duration) error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = false
	cancel := n.cancel
	group := n.group
	n.mu.Unlock()

	cancel()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case <-done:
	case <-time.After(timeout):
		n.logger.Warn("node tasks did not stop within timeout")
	}

	if n.source != nil {
		_ = n.source.Stop(timeout)
	}
	if n.sup != nil {
		_ = n.sup.Stop(timeout)
	}
	_ = n.ep.Stop(timeout)

	n.setState(reservoir.StateShutDown)
	n.logger.Info("node stopped")

	return nil
}

// setState transitions the process state, recording it on the status
// gauge and the telemetry feed.
func (n *Node) setState(st reservoir.ProcessState) {
	if reservoir.ProcessState(n.state.Swap(int32(st))) == st {
		return
	}
	n.metrics.recordStatus(int(st))
	if n.pub != nil {
		_ = n.pub.PublishNodeStatus(context.Background(), telemetry.NodeStatusSnapshot{
			Node:      n.name,
			Role:      string(n.router.Role()),
			State:     st.String(),
			Timestamp: time.Now().UTC(),
		})
	}
}

// enqueue places a message on the outbound queue without blocking
// ingress. A full queue drops the message; the re-emit tick recovers.
func (n *Node) enqueue(peer string, pt wire.PayloadType, data []byte) {
	select {
	case n.outbox <- outbound{peer: peer, pt: pt, data: data}:
	default:
		n.metrics.recordError("overflow")
		n.logger.Warn("outbound queue full, message dropped", "peer", peer, "type", pt.String())
	}
}

// publishModel propagates a freshly trained readout downstream and over
// telemetry. Wired as the supervisor's publish hook.
func (n *Node) publishModel(ctx context.Context, p wire.ModelPayload) error {
	if down, ok := n.router.Downstream(); ok {
		n.enqueue(down.Name, wire.PayloadModelUpdate, p.Encode())
	}
	if n.pub != nil {
		_ = n.pub.PublishModel(ctx, telemetry.ModelSnapshotFrom(n.name, p))
	}
	return nil
}
