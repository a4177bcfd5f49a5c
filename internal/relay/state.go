package relay

import "fmt"

// State is the phase of a turn.
type State int

const (
	// StateIdle is a turn that has not started streaming.
	StateIdle State = iota
	// StateStreaming is consuming tokens.
	StateStreaming
	// StateFlushing is pushing the accumulated text to the channel.
	StateFlushing
	// StateCompleted is a turn that ended with Done.
	StateCompleted
	// StateFailed is a turn that ended with a failure.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateFlushing:
		return "flushing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions defines valid state transitions.
var transitions = map[State][]State{
	StateIdle:      {StateStreaming},
	StateStreaming: {StateFlushing, StateFailed},
	StateFlushing:  {StateStreaming, StateCompleted, StateFailed},
	StateCompleted: {}, // Terminal state
	StateFailed:    {}, // Terminal state
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state has no outgoing transitions.
func IsTerminal(s State) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}
