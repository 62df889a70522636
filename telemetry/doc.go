// Package telemetry publishes live pipeline snapshots to NATS so
// observers can follow the installation without touching the control
// path. Publishing is strictly best effort: a nil Publisher is a valid
// no-op, and a lost bus never stalls a node.
package telemetry
