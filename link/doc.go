// Package link implements reliable at-least-once, in-order message
// delivery between adjacent pipeline nodes over an unreliable datagram
// transport.
//
// Each Endpoint owns one transport socket and multiplexes per-peer link
// state over it. Outbound messages carry per-link monotonic sequence
// numbers and are retransmitted on an exponential backoff schedule until
// acknowledged or the retry budget is exhausted, at which point the link
// reports itself degraded. Inbound messages are acknowledged immediately,
// deduplicated, and released to the caller strictly in sequence order; a
// sequence gap that persists past the reorder timeout is skipped so one
// lost message cannot stall the pipeline forever.
package link
