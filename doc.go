// Package venice drives a kinetic installation from crowd movement.
//
// A camera-side node turns motion vectors into scaled activity samples
// and pushes them into a chain of reservoir nodes. Each node evolves an
// echo-state reservoir over its input and forwards the resulting state
// to the next hop over a reliable, ordered link built on UDP. A trainer
// node fits a ridge readout online and republishes models down the
// chain; the final sink node maps reservoir state onto servo angles,
// the clock hand, and the wavemaker relay.
//
// Package layout:
//
//   - motion: vector batches, scaling, CSV replay and simulated sources
//   - wire: binary frame and payload codecs
//   - link: acked, deduplicated, in-order delivery over lossy transports
//   - topology: chain membership and per-node routing
//   - reservoir: leaky echo-state update
//   - training: example buffering, ridge readout, online supervision
//   - actuation: state-to-servo mapping and the serial protocol
//   - node: the per-process state machine tying the stages together
//   - telemetry, monitor, metric: NATS snapshots, live dashboard,
//     Prometheus exposition
//
// cmd/venice runs one node; its role comes from the configured
// topology.
package venice
