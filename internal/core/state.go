package core

// ConnectionState is the broker connection lifecycle as seen by the UI.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// transitions lists every legal edge of the connection state machine.
// Disconnect is allowed from anywhere and is handled separately.
// Connected -> Failed is only taken when the broker rejects the credentials.
var transitions = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateReconnecting, StateFailed},
	StateConnected:    {StateReconnecting, StateFailed},
	StateReconnecting: {StateConnected, StateFailed},
	StateFailed:       {StateConnecting},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to ConnectionState) bool {
	if to == StateDisconnected {
		return from != StateDisconnected
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
