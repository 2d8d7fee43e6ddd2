package session

import "github.com/minionctl/orchestrator/pkg/types"

// transitions enumerates every legal State -> State move. A transition not
// listed here is rejected by Manager.Transition.
var transitions = map[types.State]map[types.State]bool{
	types.StateCreated: {
		types.StateStarting: true,
	},
	types.StateStarting: {
		types.StateActive: true,
		types.StateError:  true,
	},
	types.StateActive: {
		types.StatePaused:     true,
		types.StateError:      true,
		types.StateTerminated: true,
	},
	types.StatePaused: {
		types.StateActive:     true,
		types.StateError:      true,
		types.StateTerminated: true,
	},
	types.StateError: {
		types.StateTerminated: true,
		types.StateStarting:   true,
	},
	types.StateTerminated: {
		types.StateStarting: true,
	},
}

// canTransition reports whether from -> to is a legal state machine move.
func canTransition(from, to types.State) bool {
	if from == to {
		return true
	}
	next, ok := transitions[from]
	if !ok {
		return false
	}
	return next[to]
}
