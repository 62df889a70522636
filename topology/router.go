// Package topology resolves a node's logical identity to its upstream and
// downstream peers. The layout is a directed edge list over named nodes,
// resolved once at startup and immutable afterwards. Linear chains and
// rings (the terminal edge returning to the origin) are both supported;
// every node has at most one upstream and one downstream.
package topology

import (
	"fmt"

	"github.com/otelhan/venice/errors"
)

// Role determines which pipeline stage a node runs.
type Role string

// Node roles in the installation.
const (
	// RoleSource samples movement vectors and injects them into the chain.
	RoleSource Role = "source"
	// RoleRelay evolves reservoir state and forwards it, optionally
	// driving the wavemaker relay.
	RoleRelay Role = "relay"
	// RoleTrainer accumulates training examples and republishes models.
	RoleTrainer Role = "trainer"
	// RoleBuilder replays recorded vectors in place of a live source.
	RoleBuilder Role = "builder"
	// RoleSink maps the final state to servo commands.
	RoleSink Role = "sink"
)

// ParseRole validates a role string from configuration.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSource, RoleRelay, RoleTrainer, RoleBuilder, RoleSink:
		return Role(s), nil
	default:
		return "", errors.WrapFatal(
			fmt.Errorf("%w: %q", errors.ErrUnknownRole, s),
			"Router", "ParseRole", "role validation")
	}
}

// Node is one participant in the pipeline.
type Node struct {
	Name       string
	ListenAddr string
	Role       Role
}

// Edge is one directed hop in the pipeline.
type Edge struct {
	From string
	To   string
}

// Router holds the resolved static topology for one process.
type Router struct {
	self       Node
	nodes      map[string]Node
	downstream map[string]string
	upstream   map[string]string
	order      []string
	ring       bool
}

// NewRouter resolves the topology from this node's perspective. It fails
// fatally on unknown peers, branching, or a broken chain; topology errors
// are configuration errors and are never retried at runtime.
func NewRouter(self string, nodes []Node, edges []Edge) (*Router, error) {
	byName := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if n.Name == "" {
			return nil, topoErr(fmt.Errorf("node with empty name"), "node validation")
		}
		if _, dup := byName[n.Name]; dup {
			return nil, topoErr(fmt.Errorf("duplicate node %q", n.Name), "node validation")
		}
		byName[n.Name] = n
	}

	me, ok := byName[self]
	if !ok {
		return nil, topoErr(
			fmt.Errorf("%w: self %q not in topology", errors.ErrUnknownPeer, self),
			"self lookup")
	}

	down := make(map[string]string, len(edges))
	up := make(map[string]string, len(edges))
	for _, e := range edges {
		if _, ok := byName[e.From]; !ok {
			return nil, topoErr(
				fmt.Errorf("%w: edge source %q", errors.ErrUnknownPeer, e.From), "edge resolution")
		}
		if _, ok := byName[e.To]; !ok {
			return nil, topoErr(
				fmt.Errorf("%w: edge destination %q", errors.ErrUnknownPeer, e.To), "edge resolution")
		}
		if prev, exists := down[e.From]; exists {
			return nil, topoErr(
				fmt.Errorf("%w: %q feeds both %q and %q", errors.ErrBrokenChain, e.From, prev, e.To),
				"fan-out check")
		}
		if prev, exists := up[e.To]; exists {
			return nil, topoErr(
				fmt.Errorf("%w: %q fed by both %q and %q", errors.ErrBrokenChain, e.To, prev, e.From),
				"fan-in check")
		}
		down[e.From] = e.To
		up[e.To] = e.From
	}

	order, ring, err := walk(down, up)
	if err != nil {
		return nil, err
	}

	return &Router{
		self:       me,
		nodes:      byName,
		downstream: down,
		upstream:   up,
		order:      order,
		ring:       ring,
	}, nil
}

// walk traverses the edge list from the chain origin, verifying that the
// edges form a single unbroken chain or ring covering every linked node.
func walk(down, up map[string]string) ([]string, bool, error) {
	if len(down) == 0 {
		return nil, false, nil
	}

	var origins []string
	for name := range down {
		if _, hasUpstream := up[name]; !hasUpstream {
			origins = append(origins, name)
		}
	}

	var origin string
	ring := false
	switch len(origins) {
	case 0:
		// Every sending node also receives: a ring. Pick any member as
		// the walk origin.
		ring = true
		for name := range down {
			if origin == "" || name < origin {
				origin = name
			}
		}
	case 1:
		origin = origins[0]
	default:
		return nil, false, topoErr(
			fmt.Errorf("%w: multiple chain origins %v", errors.ErrBrokenChain, origins),
			"chain walk")
	}

	order := []string{origin}
	seen := map[string]bool{origin: true}
	for current := origin; ; {
		next, ok := down[current]
		if !ok {
			break
		}
		if next == origin {
			// Terminal destination equals origin: closes the ring.
			ring = true
			break
		}
		if seen[next] {
			return nil, false, topoErr(
				fmt.Errorf("%w: cycle through %q does not return to origin", errors.ErrBrokenChain, next),
				"chain walk")
		}
		seen[next] = true
		order = append(order, next)
		current = next
	}

	// Every edge endpoint must be on the walked path.
	for from, to := range down {
		if !seen[from] || !seen[to] {
			return nil, false, topoErr(
				fmt.Errorf("%w: edge %s->%s disconnected from chain", errors.ErrBrokenChain, from, to),
				"connectivity check")
		}
	}
	return order, ring, nil
}

// Self returns this process's node.
func (r *Router) Self() Node { return r.self }

// Role returns this node's role.
func (r *Router) Role() Role { return r.self.Role }

// IsRing reports whether the chain's terminal destination loops back to
// its origin.
func (r *Router) IsRing() bool { return r.ring }

// Chain returns node names in pipeline order starting at the origin.
func (r *Router) Chain() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Downstream returns the node this one sends to.
func (r *Router) Downstream() (Node, bool) {
	name, ok := r.downstream[r.self.Name]
	if !ok {
		return Node{}, false
	}
	return r.nodes[name], true
}

// Upstream returns the node this one receives from.
func (r *Router) Upstream() (Node, bool) {
	name, ok := r.upstream[r.self.Name]
	if !ok {
		return Node{}, false
	}
	return r.nodes[name], true
}

// Lookup resolves a peer by name.
func (r *Router) Lookup(name string) (Node, error) {
	n, ok := r.nodes[name]
	if !ok {
		return Node{}, topoErr(
			fmt.Errorf("%w: %q", errors.ErrUnknownPeer, name), "peer lookup")
	}
	return n, nil
}

// Peers returns this node's neighbors as a name-to-address map, the shape
// the link endpoint wants.
func (r *Router) Peers() map[string]string {
	peers := make(map[string]string, 2)
	if upName, ok := r.upstream[r.self.Name]; ok {
		peers[upName] = r.nodes[upName].ListenAddr
	}
	if downName, ok := r.downstream[r.self.Name]; ok {
		peers[downName] = r.nodes[downName].ListenAddr
	}
	return peers
}

func topoErr(err error, action string) error {
	return errors.WrapFatal(err, "Router", "New", action)
}
