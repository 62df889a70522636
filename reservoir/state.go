package reservoir

// ProcessState tracks where a node is in its receive/update/forward cycle.
type ProcessState int

// Node processing states.
const (
	// StateIdle means the node is constructed but not yet running.
	StateIdle ProcessState = iota
	// StateAwaitingInput means the node is blocked on its inbound link.
	StateAwaitingInput
	// StateUpdating means the node is evolving its reservoir state.
	StateUpdating
	// StateForwarding means the node is sending downstream and waiting
	// for the acknowledgment.
	StateForwarding
	// StateShutDown is terminal, entered on explicit stop.
	StateShutDown
)

// String returns the state name used in logs and telemetry.
func (s ProcessState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitingInput:
		return "AWAITING_INPUT"
	case StateUpdating:
		return "UPDATING"
	case StateForwarding:
		return "FORWARDING"
	case StateShutDown:
		return "SHUT_DOWN"
	default:
		return "UNKNOWN"
	}
}
