package node

import (
	"context"
	"time"

	"github.com/otelhan/venice/actuation"
	"github.com/otelhan/venice/errors"
	"github.com/otelhan/venice/reservoir"
	"github.com/otelhan/venice/telemetry"
	"github.com/otelhan/venice/training"
	"github.com/otelhan/venice/wire"
)

// sendLoop drains the outbound queue. Each send blocks on its own
// acknowledgment, so a slow hop stalls only this queue, never ingress.
func (n *Node) sendLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case out := <-n.outbox:
			seq, err := n.ep.Send(ctx, out.peer, out.pt, out.data)
			if err != nil {
				if errors.IsFatal(err) {
					return err
				}
				n.metrics.recordError("transient")
				n.logger.Warn("downstream send failed",
					"peer", out.peer, "type", out.pt.String(), "error", err)
				continue
			}
			n.lastForward.Store(time.Now().UnixNano())
			n.metrics.recordForwarded(out.pt.String())
			n.logger.Debug("forwarded", "peer", out.peer, "type", out.pt.String(), "seq", seq)
		}
	}
}

// degradedLoop surfaces retry budget exhaustion on this node's links.
// Degradation is recoverable: the held state keeps the chain moving.
func (n *Node) degradedLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-n.ep.Degraded():
			if !ok {
				return nil
			}
			n.metrics.recordError("degraded")
			n.logger.Warn("link degraded, holding last state",
				"peer", ev.Peer, "seq", ev.Sequence, "error", ev.Err)
		}
	}
}

// sourceLoop feeds scaled motion vector batches into the chain.
func (n *Node) sourceLoop(ctx context.Context) error {
	down, ok := n.router.Downstream()
	if !ok {
		return errors.WrapFatal(errors.ErrBrokenChain, "Node", "sourceLoop", "source has no downstream")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-n.source.Batches():
			if !ok {
				n.logger.Info("vector source exhausted")
				return nil
			}
			n.setState(reservoir.StateForwarding)
			n.enqueue(down.Name, wire.PayloadVector, batch.Payload().Encode())
			n.setState(reservoir.StateAwaitingInput)
		}
	}
}

// receiveLoop processes in-order deliveries from the inbound link.
func (n *Node) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-n.ep.Deliveries():
			if !ok {
				return nil
			}
			n.handleMessage(ctx, msg)
		}
	}
}

func (n *Node) handleMessage(ctx context.Context, msg wire.Message) {
	start := time.Now()
	n.metrics.recordReceived(msg.Type.String())

	var (
		input      []float64
		inputMean  float64
		tsin, tcos float64
	)

	switch msg.Type {
	case wire.PayloadVector:
		p, err := wire.DecodeVector(msg.Payload)
		if err != nil {
			n.dropDecodeFailure(msg, err)
			return
		}
		input = make([]float64, 0, len(p.Regions))
		sum := 0.0
		for _, r := range p.Regions {
			input = append(input, r.Magnitude)
			sum += r.Magnitude
		}
		if len(p.Regions) > 0 {
			inputMean = sum / float64(len(p.Regions))
		}
		tsin, tcos = p.TSin, p.TCos

	case wire.PayloadState:
		p, err := wire.DecodeState(msg.Payload)
		if err != nil {
			n.dropDecodeFailure(msg, err)
			return
		}
		input = p.State
		inputMean = p.InputMean
		tsin, tcos = p.TSin, p.TCos

	case wire.PayloadModelUpdate:
		p, err := wire.DecodeModel(msg.Payload)
		if err != nil {
			n.dropDecodeFailure(msg, err)
			return
		}
		n.adoptModel(p)
		// Models ride the chain end to end.
		if down, ok := n.router.Downstream(); ok {
			n.enqueue(down.Name, wire.PayloadModelUpdate, msg.Payload)
		}
		return

	default:
		n.metrics.recordError("invalid")
		n.logger.Warn("unexpected payload type delivered", "type", msg.Type.String(), "from", msg.SourceID)
		return
	}

	n.setState(reservoir.StateUpdating)
	state := n.res.Update(input)
	n.storeHeld(heldState{state: state, inputMean: inputMean, tsin: tsin, tcos: tcos, seq: msg.Sequence})

	if n.sup != nil {
		n.sup.Observe(training.Example{
			State:  state,
			Target: n.thresholds.ClassifyActivity(inputMean),
		})
	}

	if n.relay != nil {
		if err := n.relay.SetRelay(ctx, inputMean >= n.relayThreshold); err != nil {
			n.metrics.recordError("transient")
			n.logger.Warn("wavemaker relay write failed", "error", err)
		}
	}

	n.setState(reservoir.StateForwarding)
	n.emitState(ctx, state, inputMean, tsin, tcos, msg.Sequence)
	n.setState(reservoir.StateAwaitingInput)

	n.metrics.recordLatency("update", time.Since(start))
}

func (n *Node) dropDecodeFailure(msg wire.Message, err error) {
	n.metrics.recordError("invalid")
	n.logger.Warn("payload decode failed, message dropped",
		"type", msg.Type.String(), "from", msg.SourceID, "seq", msg.Sequence, "error", err)
}

func (n *Node) adoptModel(p wire.ModelPayload) {
	model := training.ModelFromPayload(p)
	if n.sup != nil {
		n.sup.Adopt(model)
	} else {
		n.model.Store(model)
	}
	n.logger.Info("readout model adopted",
		"model", p.ModelID, "updates", p.UpdatesPerformed, "accuracy", p.Accuracy)
}

func (n *Node) storeHeld(h heldState) {
	n.heldMu.Lock()
	n.held = &h
	n.heldMu.Unlock()
}

func (n *Node) loadHeld() *heldState {
	n.heldMu.Lock()
	defer n.heldMu.Unlock()
	return n.held
}

// emitState forwards the state downstream, or actuates when this node
// is the terminal sink.
func (n *Node) emitState(ctx context.Context, state []float64, inputMean, tsin, tcos float64, seq uint64) {
	if down, ok := n.router.Downstream(); ok {
		payload := wire.StatePayload{
			NodeID:    n.name,
			LastSeq:   seq,
			InputMean: inputMean,
			TSin:      tsin,
			TCos:      tcos,
			State:     state,
		}
		n.enqueue(down.Name, wire.PayloadState, payload.Encode())
	}

	if n.mapper != nil {
		n.actuate(ctx, state, inputMean)
	}

	if n.pub != nil {
		_ = n.pub.PublishState(ctx, telemetry.StateSnapshot{
			Node:      n.name,
			Seq:       seq,
			InputMean: inputMean,
			TSin:      tsin,
			TCos:      tcos,
			State:     state,
			Timestamp: time.Now().UTC(),
		})
	}
}

// reemitLoop re-emits the held state once per scheduling tick while the
// inbound link is quiet, so downstream stages keep moving through
// upstream loss or decode failures.
func (n *Node) reemitLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.reemitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			last := time.Unix(0, n.lastForward.Load())
			if time.Since(last) < n.reemitInterval {
				continue
			}
			held := n.loadHeld()
			if held == nil {
				continue
			}
			n.logger.Debug("re-emitting held state", "seq", held.seq)
			n.emitState(ctx, held.state, held.inputMean, held.tsin, held.tcos, held.seq)
		}
	}
}

// clockLoop keeps the clock servo on its time-of-day sector. The mapper
// only issues a command when the sector changes.
func (n *Node) clockLoop(ctx context.Context) error {
	n.mapper.UpdateClock(ctx, time.Now())

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n.mapper.UpdateClock(ctx, now)
		}
	}
}

// actuate drives the cubes from the final state vector and the
// wavemaker from observed activity. When a trained readout is present
// its class prediction gates the wavemaker instead of the raw mean.
func (n *Node) actuate(ctx context.Context, state []float64, inputMean float64) {
	values := stateToValues(state)
	targets := n.mapper.Apply(ctx, values)

	if model := n.Model(); model != nil {
		if model.Predict(state) == training.ActivityHigh {
			n.mapper.UpdateWave(ctx, actuation.MaxValue)
		} else {
			n.mapper.UpdateWave(ctx, actuation.MinValue)
		}
	} else {
		n.mapper.UpdateWave(ctx, inputMean)
	}

	if n.pub != nil {
		clockAngle, _ := n.mapper.ClockPosition()
		_ = n.pub.PublishActuation(ctx, telemetry.ActuationSnapshot{
			Node:       n.name,
			Angles:     targets,
			ClockAngle: clockAngle,
			Relay:      n.mapper.WaveOn(),
			Timestamp:  time.Now().UTC(),
		})
	}
}

// stateToValues maps bounded state components from [-1, 1] into the
// actuator value range [20, 127].
func stateToValues(state []float64) []float64 {
	span := actuation.MaxValue - actuation.MinValue
	values := make([]float64, len(state))
	for i, s := range state {
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}
		values[i] = actuation.MinValue + (s+1)/2*span
	}
	return values
}
