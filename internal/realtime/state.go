package realtime

// State is the lifecycle state of the admin channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateAttached     State = "attached"
	StateSuspended    State = "suspended"
	StateDetached     State = "detached"
)

// AllStates lists every channel state.
func AllStates() []State {
	return []State{StateDisconnected, StateConnecting, StateAttached, StateSuspended, StateDetached}
}

func (s State) String() string {
	return string(s)
}

func stateNames() []string {
	all := AllStates()
	out := make([]string, len(all))
	for i, s := range all {
		out[i] = string(s)
	}
	return out
}
