package subscription

// State is the lifecycle state of a Client.
type State int

const (
	StateCreated State = iota
	StateConnecting
	StateHandshaking
	StateStreaming
	StateDisconnecting
	StateDisconnected
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateStreaming:
		return "Streaming"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDisconnected:
		return "Disconnected"
	case StateDisposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// active reports whether a connection attempt or subscription is in progress.
func (s State) active() bool {
	return s == StateConnecting || s == StateHandshaking || s == StateStreaming
}
