package realtime

import "time"

// SessionState is the lifecycle state of a Client.
type SessionState int

// Session states.
const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateActive
	StateClosing
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Session describes one established remote session. A reconnect yields a
// new Session with a new ID.
type Session struct {
	ID        string
	Model     string
	Mode      Mode
	State     SessionState
	CreatedAt time.Time
}
