package chat

// State is a lifecycle stage of the engine or of a session.
type State int32

const (
	StateInit State = iota
	StateAwaitingCredential
	StateReady
	StateDispatching
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateAwaitingCredential:
		return "AWAITING_CREDENTIAL"
	case StateReady:
		return "READY"
	case StateDispatching:
		return "DISPATCHING"
	case StateHalted:
		return "HALTED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
