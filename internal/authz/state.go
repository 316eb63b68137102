package authz

// State tracks a single repayment attempt through the sequencer.
// Transitions are strictly forward; Failed is terminal and reachable from
// any non-terminal state, and only an explicit Reset leaves it.
type State int32

const (
	StateIdle State = iota
	StateChecking
	StateValidating
	StateApproving
	StateSettling
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateChecking:
		return "Checking"
	case StateValidating:
		return "Validating"
	case StateApproving:
		return "Approving"
	case StateSettling:
		return "Settling"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// terminal reports whether no further forward transition exists.
func (s State) terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransitionTo validates state transitions.
func (s State) CanTransitionTo(next State) bool {
	if next == StateFailed {
		return !s.terminal()
	}

	validTransitions := map[State][]State{
		StateIdle:     {StateChecking},
		StateChecking: {StateValidating},
		// An attempt with a sufficient allowance skips straight to settling.
		StateValidating: {StateApproving, StateSettling},
		StateApproving:  {StateApproving, StateSettling}, // one hop per approval
		StateSettling:   {StateCompleted},
	}

	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}
