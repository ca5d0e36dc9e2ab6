package presence

import (
	"PPresence/logger"
	"PPresence/tools/safe"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Deliverer is the surface business collaborators (bookings, likes, follows,
// notifications) use to push live events. Every call is best-effort; a false
// or zero result means "not delivered live" and is not an error.
type Deliverer interface {
	SendToUser(userID, event string, payload any) bool
	BroadcastAll(event string, payload any) int
	BroadcastAllExcept(excludedUserID, event string, payload any) int
}

// Router delivers events through the Registry. It only reads the registry,
// except for removing a handle it just found dead.
type Router struct {
	reg *Registry
	obs Observer
	log *zap.Logger
}

var _ Deliverer = (*Router)(nil)

func NewRouter(reg *Registry, obs Observer, log *zap.Logger) *Router {
	if log == nil {
		log = logger.Named("router")
	}
	return &Router{reg: reg, obs: orNop(obs), log: log}
}

// SendToUser emits event to userID's live connection. Returns false when the
// user has no session or the handle turned out to be dead.
func (r *Router) SendToUser(userID, event string, payload any) bool {
	c, ok := r.reg.Get(userID)
	if !ok {
		return false
	}
	return r.deliver(userID, c, event, payload)
}

// BroadcastAll emits event to every connection known at call time and returns
// how many accepted it.
func (r *Router) BroadcastAll(event string, payload any) int {
	return r.broadcast("", event, payload)
}

// BroadcastAllExcept is BroadcastAll without excludedUserID's connection.
func (r *Router) BroadcastAllExcept(excludedUserID, event string, payload any) int {
	return r.broadcast(excludedUserID, event, payload)
}

func (r *Router) broadcast(excluded, event string, payload any) int {
	n := 0
	for _, s := range r.reg.Sessions() {
		if excluded != "" && s.UserID == excluded {
			continue
		}
		if r.deliver(s.UserID, s.Conn, event, payload) {
			n++
		}
	}
	return n
}

func (r *Router) deliver(userID string, c Conn, event string, payload any) bool {
	err := safe.Call(func() error { return c.Emit(event, payload) })
	if err == nil {
		return true
	}
	if errors.Is(err, ErrConnClosed) || !alive(c) {
		// only the handle we tried; a fresh login for userID stays untouched
		if r.reg.RemoveIf(userID, c) {
			r.obs.Dropped(userID, c.ID())
		}
		return false
	}
	r.log.Warn("emit failed",
		zap.String("user_id", userID), zap.String("socket_id", c.ID()),
		zap.String("event", event), zap.Error(err))
	return false
}

func (r *Router) IsOnline(userID string) bool {
	_, ok := r.reg.Get(userID)
	return ok
}

// Session reports userID's current session, for diagnostics.
func (r *Router) Session(userID string) (Session, bool) { return r.reg.Session(userID) }

func (r *Router) OnlineUserIDs() []string { return r.reg.UserIDs() }

func (r *Router) OnlineCount() int { return r.reg.Size() }

// alive treats a panicking liveness check as dead.
func alive(c Conn) bool {
	ok := false
	if err := safe.Call(func() error { ok = c.Alive(); return nil }); err != nil {
		return false
	}
	return ok
}
