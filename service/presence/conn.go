package presence

import (
	"time"

	"github.com/pkg/errors"
)

// ErrConnClosed is returned (possibly wrapped) by Conn.Emit when the underlying
// transport is already gone.
var ErrConnClosed = errors.New("connection closed")

// Conn is a live bidirectional connection as seen by the presence core.
//
// Implementations must be comparable by identity (pointer types): the registry
// keys its reverse index on the Conn value itself. Emit must not block on
// network I/O and Alive must be a cheap local check.
type Conn interface {
	ID() string
	Emit(event string, payload any) error
	Close() error
	Alive() bool
}

// Session is one registry entry.
type Session struct {
	UserID      string
	Conn        Conn
	ConnectedAt time.Time
}
