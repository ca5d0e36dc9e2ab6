package presence

// Outbound event names.
const (
	EventConnectionSuccess = "connection_success"
	EventError             = "error"
	EventSessionReplaced   = "session_replaced"
)

type ConnectionSuccess struct {
	UserID   string `json:"userId"`
	SocketID string `json:"socketId"`
}

type ErrorEvent struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// SessionReplaced is sent to a connection right before it is closed because the
// same user completed a newer handshake.
type SessionReplaced struct {
	Reason   string `json:"reason"`
	SocketID string `json:"socketId"`
}

const replacedReason = "logged_in_elsewhere"
