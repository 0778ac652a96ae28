package gateway

// State is the lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateResuming
	StateActive
	StateReconnecting
	StateInvalidated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateIdentifying:
		return "identifying"
	case StateResuming:
		return "resuming"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateInvalidated:
		return "invalidated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
