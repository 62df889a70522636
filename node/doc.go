// Package node assembles one installation node from its role: the
// source samples motion vectors and feeds the chain, reservoir nodes
// evolve state and forward it, the trainer fits the readout online, and
// the sink maps the final state to servo commands. All roles share the
// same reliable link endpoint, lifecycle, and degradation behavior:
// when the inbound link falters the node holds its last valid state and
// keeps re-emitting it so the installation never freezes.
package node
