package presence

import (
	"go.uber.org/zap"
)

// Observer receives lifecycle notifications from the presence core. Calls are
// synchronous and may come from many goroutines; implementations must be cheap
// and concurrency safe.
type Observer interface {
	// Established: a handshake succeeded and the session is registered.
	Established(userID, socketID string)
	// Rejected: a handshake failed; cause is the classified failure.
	Rejected(socketID string, cause error)
	// Evicted: a session was replaced by a newer handshake of the same user.
	Evicted(userID, socketID string)
	// Disconnected: the transport reported close for a registered session.
	Disconnected(userID, socketID string)
	// Reaped: the reaper removed a session whose handle was no longer live.
	Reaped(userID, socketID string)
	// Dropped: a send found the handle dead and the session was removed.
	Dropped(userID, socketID string)
}

// Observers fans every notification out to each member in order.
type Observers []Observer

func (o Observers) Established(userID, socketID string) {
	for _, x := range o {
		x.Established(userID, socketID)
	}
}

func (o Observers) Rejected(socketID string, cause error) {
	for _, x := range o {
		x.Rejected(socketID, cause)
	}
}

func (o Observers) Evicted(userID, socketID string) {
	for _, x := range o {
		x.Evicted(userID, socketID)
	}
}

func (o Observers) Disconnected(userID, socketID string) {
	for _, x := range o {
		x.Disconnected(userID, socketID)
	}
}

func (o Observers) Reaped(userID, socketID string) {
	for _, x := range o {
		x.Reaped(userID, socketID)
	}
}

func (o Observers) Dropped(userID, socketID string) {
	for _, x := range o {
		x.Dropped(userID, socketID)
	}
}

// LogObserver writes each notification as a structured zap entry.
type LogObserver struct {
	Log *zap.Logger
}

func NewLogObserver(log *zap.Logger) *LogObserver {
	return &LogObserver{Log: log}
}

func (l *LogObserver) Established(userID, socketID string) {
	l.Log.Info("connection established", zap.String("user_id", userID), zap.String("socket_id", socketID))
}

func (l *LogObserver) Rejected(socketID string, cause error) {
	l.Log.Warn("connection rejected", zap.String("socket_id", socketID), zap.Error(cause))
}

func (l *LogObserver) Evicted(userID, socketID string) {
	l.Log.Info("session evicted by newer login", zap.String("user_id", userID), zap.String("socket_id", socketID))
}

func (l *LogObserver) Disconnected(userID, socketID string) {
	l.Log.Info("connection closed", zap.String("user_id", userID), zap.String("socket_id", socketID))
}

func (l *LogObserver) Reaped(userID, socketID string) {
	l.Log.Info("stale connection reaped", zap.String("user_id", userID), zap.String("socket_id", socketID))
}

func (l *LogObserver) Dropped(userID, socketID string) {
	l.Log.Info("dead connection dropped on send", zap.String("user_id", userID), zap.String("socket_id", socketID))
}

type nopObserver struct{}

func (nopObserver) Established(string, string)  {}
func (nopObserver) Rejected(string, error)      {}
func (nopObserver) Evicted(string, string)      {}
func (nopObserver) Disconnected(string, string) {}
func (nopObserver) Reaped(string, string)       {}
func (nopObserver) Dropped(string, string)      {}

func orNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
