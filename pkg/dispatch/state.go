package dispatch

// State is a step of the per-request state machine:
//
//	RECEIVED -> PARSED -> [AUTH_CHECKED] -> EXECUTED -> REPLIED
//
// A failure at any step jumps straight to REPLIED.
type State int

const (
	StateReceived State = iota
	StateParsed
	StateAuthChecked
	StateExecuted
	StateReplied
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateParsed:
		return "PARSED"
	case StateAuthChecked:
		return "AUTH_CHECKED"
	case StateExecuted:
		return "EXECUTED"
	case StateReplied:
		return "REPLIED"
	default:
		return "UNKNOWN"
	}
}
