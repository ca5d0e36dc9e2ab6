package presence

import (
	"sync"
	"time"
)

// Registry is the process-wide userId <-> connection map. Both indices live
// behind one lock so every mutation observes and updates them together.
//
// At most one session exists per user. Callers never get the maps; they use
// the compound operations below, notably Put (which hands back the evicted
// handle) and RemoveIf (compare-and-remove).
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Session // user -> session
	byConn map[Conn]string    // conn -> user

	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]Session),
		byConn: make(map[Conn]string),
		now:    time.Now,
	}
}

// Put stores c as userID's session and returns the handle it replaced, or nil.
// The caller owns the returned handle and is responsible for closing it.
// Putting a handle that is already registered under another user moves it.
func (r *Registry) Put(userID string, c Conn) (evicted Conn) {
	if userID == "" || c == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[c]; ok && prev != userID {
		delete(r.byUser, prev)
	}
	connectedAt := r.now()
	if old, ok := r.byUser[userID]; ok {
		if old.Conn == c {
			connectedAt = old.ConnectedAt
		} else {
			evicted = old.Conn
			delete(r.byConn, old.Conn)
		}
	}
	r.byUser[userID] = Session{UserID: userID, Conn: c, ConnectedAt: connectedAt}
	r.byConn[c] = userID
	return evicted
}

// Remove deletes userID's session. Reports whether one existed.
func (r *Registry) Remove(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byUser[userID]
	if !ok {
		return false
	}
	delete(r.byUser, userID)
	delete(r.byConn, s.Conn)
	return true
}

// RemoveIf deletes userID's session only while it is still bound to c. It fails
// (returns false) when the user has since logged in again on another handle.
func (r *Registry) RemoveIf(userID string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byUser[userID]
	if !ok || s.Conn != c {
		return false
	}
	delete(r.byUser, userID)
	delete(r.byConn, c)
	return true
}

// RemoveByHandle is the reverse-lookup removal used on transport close, where
// only the handle is known.
func (r *Registry) RemoveByHandle(c Conn) (userID string, ok bool) {
	if c == nil {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.byConn[c]
	if !ok {
		return "", false
	}
	delete(r.byConn, c)
	if s, exists := r.byUser[userID]; exists && s.Conn == c {
		delete(r.byUser, userID)
	}
	return userID, true
}

func (r *Registry) Get(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	return s.Conn, true
}

func (r *Registry) Session(userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byUser[userID]
	return s, ok
}

// UserOf is the non-destructive reverse lookup.
func (r *Registry) UserOf(c Conn) (string, bool) {
	if c == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byConn[c]
	return u, ok
}

// UserIDs returns a snapshot; later registry changes do not affect it.
func (r *Registry) UserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byUser))
	for u := range r.byUser {
		out = append(out, u)
	}
	return out
}

// Sessions returns a snapshot of every session.
func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.byUser))
	for _, s := range r.byUser {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Clear empties the registry and returns what it held, for shutdown.
func (r *Registry) Clear() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.byUser))
	for _, s := range r.byUser {
		out = append(out, s)
	}
	r.byUser = make(map[string]Session)
	r.byConn = make(map[Conn]string)
	return out
}
