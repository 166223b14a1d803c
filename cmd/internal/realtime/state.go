package realtime

// State is the connection protocol state.
type State uint8

const (
	StateUnauthenticated State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type stateEvent uint8

const (
	evJoinOK stateEvent = iota
	evJoinFail
	evMessage
	evClose
)

// transitions is the complete state table. Pairs absent from it are rejected
// and leave the state unchanged.
var transitions = map[State]map[stateEvent]State{
	StateUnauthenticated: {
		evJoinOK:   StateJoined,
		evJoinFail: StateClosed,
		evClose:    StateClosed,
	},
	StateJoined: {
		evMessage: StateJoined,
		evClose:   StateClosed,
	},
}

func nextState(from State, ev stateEvent) (State, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}
