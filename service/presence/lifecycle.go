package presence

import (
	"net/http"
	"net/url"
	"sync"

	"PPresence/logger"
	"PPresence/tools/decode"
	"PPresence/tools/safe"
	"PPresence/tools/security"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrAuthRequired: the handshake carried no credential at all.
	ErrAuthRequired = errors.New("authentication required")
	// ErrHandshakeAborted: the transport closed before the handshake finished.
	ErrHandshakeAborted = errors.New("handshake aborted")
)

// TokenVerifier is satisfied by *security.Verifier.
type TokenVerifier interface {
	Verify(credential string) (*security.Identity, error)
}

// State of one connection attempt.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateRegistered
	StateRejected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateRegistered:
		return "registered"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handshake is the credential-bearing part of an inbound connection.
type Handshake struct {
	Auth   map[string]any // handshake auth payload
	Query  url.Values
	Header http.Header
}

// AuthPayload is the subset of the auth payload the handshake looks at.
type AuthPayload struct {
	Token         string `json:"token"`
	Authorization string `json:"authorization"`
}

// ExtractCredential returns the first non-empty credential in priority order:
// auth payload token, auth payload authorization, query token, Authorization
// header. A "Bearer " prefix is stripped.
func ExtractCredential(hs Handshake) string {
	var candidates []string
	if ap, err := decode.DecodeMap[AuthPayload](hs.Auth); err == nil {
		candidates = append(candidates, ap.Token, ap.Authorization)
	}
	if hs.Query != nil {
		candidates = append(candidates, hs.Query.Get("token"))
	}
	if hs.Header != nil {
		candidates = append(candidates, hs.Header.Get("Authorization"))
	}
	for _, c := range candidates {
		if v := security.StripBearer(c); v != "" {
			return v
		}
	}
	return ""
}

// Link tracks one connection through the handshake state machine.
type Link struct {
	mu     sync.Mutex
	conn   Conn
	state  State
	userID string
}

// NewLink starts c in Connecting. Transports that may observe a close while
// the handshake is still running create the link first and pass it to
// Authenticate, so Disconnect can abort the registration.
func NewLink(c Conn) *Link { return &Link{conn: c, state: StateConnecting} }

func (l *Link) Conn() Conn { return l.conn }

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) UserID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.userID
}

// advance moves from -> to and reports whether the link was in from.
func (l *Link) advance(from, to State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != from {
		return false
	}
	l.state = to
	return true
}

// Handler runs handshakes and teardowns against a Registry.
type Handler struct {
	reg      *Registry
	verifier TokenVerifier
	obs      Observer
	log      *zap.Logger
}

func NewHandler(reg *Registry, verifier TokenVerifier, obs Observer, log *zap.Logger) *Handler {
	if log == nil {
		log = logger.Named("presence")
	}
	return &Handler{reg: reg, verifier: verifier, obs: orNop(obs), log: log}
}

// Connect authenticates c and, on success, registers it. The returned Link is
// never nil; err is non-nil exactly when the link ended Rejected (or aborted).
// A rejected connection has already received an error event and been closed.
func (h *Handler) Connect(c Conn, hs Handshake) (*Link, error) {
	link := NewLink(c)
	return link, h.Authenticate(link, hs)
}

// Authenticate runs the handshake for a link created with NewLink.
func (h *Handler) Authenticate(link *Link, hs Handshake) error {
	c := link.conn
	cred := ExtractCredential(hs)
	if cred == "" {
		h.reject(link, ErrAuthRequired, ErrorEvent{Message: "Authentication required"})
		return ErrAuthRequired
	}
	if !link.advance(StateConnecting, StateAuthenticating) {
		return ErrHandshakeAborted
	}

	id, err := h.verifier.Verify(cred)
	if err != nil {
		h.reject(link, err, ErrorEvent{Message: rejectMessage(err), Error: err.Error()})
		return err
	}

	// state flip and Put happen under the link lock so a concurrent Disconnect
	// either sees Registered (and removes) or wins first (and nothing is put).
	link.mu.Lock()
	if link.state != StateAuthenticating {
		link.mu.Unlock()
		return ErrHandshakeAborted
	}
	link.state = StateRegistered
	link.userID = id.UserID
	evicted := h.reg.Put(id.UserID, c)
	link.mu.Unlock()

	if evicted != nil && evicted != c {
		h.evict(id.UserID, evicted, c)
	}
	h.obs.Established(id.UserID, c.ID())

	if err := c.Emit(EventConnectionSuccess, ConnectionSuccess{UserID: id.UserID, SocketID: c.ID()}); err != nil {
		h.log.Warn("connection_success not delivered",
			zap.String("user_id", id.UserID), zap.String("socket_id", c.ID()), zap.Error(err))
	}
	return nil
}

// Disconnect handles a transport close. It is idempotent: only the first call
// on a Registered link touches the registry. Reports the user removed, if any.
func (h *Handler) Disconnect(link *Link) (string, bool) {
	if link == nil {
		return "", false
	}
	link.mu.Lock()
	defer link.mu.Unlock()

	switch link.state {
	case StateRegistered:
		link.state = StateClosed
		userID, ok := h.reg.RemoveByHandle(link.conn)
		if ok {
			h.obs.Disconnected(userID, link.conn.ID())
			return userID, true
		}
		// already evicted by a newer login, reaped or dropped
		h.log.Debug("closed link had no session",
			zap.String("user_id", link.userID), zap.String("socket_id", link.conn.ID()))
	case StateConnecting, StateAuthenticating:
		link.state = StateClosed
	}
	return "", false
}

func (h *Handler) reject(link *Link, cause error, ev ErrorEvent) {
	link.mu.Lock()
	if link.state != StateConnecting && link.state != StateAuthenticating {
		link.mu.Unlock()
		return
	}
	link.state = StateRejected
	link.mu.Unlock()

	c := link.conn
	h.obs.Rejected(c.ID(), cause)
	if err := safe.Call(func() error { return c.Emit(EventError, ev) }); err != nil {
		h.log.Debug("error event not delivered", zap.String("socket_id", c.ID()), zap.Error(err))
	}
	if err := c.Close(); err != nil {
		h.log.Debug("close rejected connection", zap.String("socket_id", c.ID()), zap.Error(err))
	}
}

// evict closes the handle that lost the single-session race. It is only ever
// called with the handle Put returned, never with the caller's own.
func (h *Handler) evict(userID string, old, replacement Conn) {
	h.obs.Evicted(userID, old.ID())
	notice := SessionReplaced{Reason: replacedReason, SocketID: replacement.ID()}
	if err := safe.Call(func() error { return old.Emit(EventSessionReplaced, notice) }); err != nil {
		h.log.Debug("replaced notice not delivered", zap.String("socket_id", old.ID()), zap.Error(err))
	}
	if err := old.Close(); err != nil {
		h.log.Info("evicted connection already dead",
			zap.String("user_id", userID), zap.String("socket_id", old.ID()), zap.Error(err))
	}
}

func rejectMessage(err error) string {
	switch security.ReasonOf(err) {
	case security.ReasonMalformed:
		return "Invalid token"
	case security.ReasonExpired:
		return "Token expired"
	case security.ReasonNotYetValid:
		return "Token not yet valid"
	case security.ReasonMissingSubject:
		return "Invalid token payload"
	default:
		return "Authentication failed"
	}
}
