package presence

import (
	"fmt"
	"sync"
	"testing"

	"PPresence/tools/security"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	Event   string
	Payload any
}

type fakeConn struct {
	id string

	mu         sync.Mutex
	events     []emitted
	closeCount int
	dead       bool
	emitErr    error
	aliveFn    func() bool
	emitFn     func(event string)
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Emit(event string, payload any) error {
	c.mu.Lock()
	fn := c.emitFn
	if c.dead || c.closeCount > 0 {
		c.mu.Unlock()
		return errors.Wrap(ErrConnClosed, c.id)
	}
	if c.emitErr != nil {
		err := c.emitErr
		c.mu.Unlock()
		return err
	}
	c.events = append(c.events, emitted{Event: event, Payload: payload})
	c.mu.Unlock()
	if fn != nil {
		fn(event)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	if c.closeCount > 1 {
		return fmt.Errorf("%s already closed", c.id)
	}
	return nil
}

func (c *fakeConn) Alive() bool {
	c.mu.Lock()
	fn := c.aliveFn
	alive := !c.dead && c.closeCount == 0
	c.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return alive
}

func (c *fakeConn) kill() {
	c.mu.Lock()
	c.dead = true
	c.mu.Unlock()
}

func (c *fakeConn) Events() []emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]emitted(nil), c.events...)
}

func (c *fakeConn) EventsNamed(name string) []emitted {
	var out []emitted
	for _, e := range c.Events() {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

func (c *fakeConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

type observed struct {
	Kind     string
	UserID   string
	SocketID string
	Cause    error
}

// recorder is an Observer that keeps every call for assertions.
type recorder struct {
	mu    sync.Mutex
	calls []observed
}

func (r *recorder) add(o observed) {
	r.mu.Lock()
	r.calls = append(r.calls, o)
	r.mu.Unlock()
}

func (r *recorder) Established(u, s string) { r.add(observed{Kind: "established", UserID: u, SocketID: s}) }
func (r *recorder) Rejected(s string, err error) {
	r.add(observed{Kind: "rejected", SocketID: s, Cause: err})
}
func (r *recorder) Evicted(u, s string)      { r.add(observed{Kind: "evicted", UserID: u, SocketID: s}) }
func (r *recorder) Disconnected(u, s string) { r.add(observed{Kind: "disconnected", UserID: u, SocketID: s}) }
func (r *recorder) Reaped(u, s string)       { r.add(observed{Kind: "reaped", UserID: u, SocketID: s}) }
func (r *recorder) Dropped(u, s string)      { r.add(observed{Kind: "dropped", UserID: u, SocketID: s}) }

func (r *recorder) Kinds(kind string) []observed {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []observed
	for _, c := range r.calls {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

var testOpts = security.DefaultOptions([]byte("presence-test-secret"))

func testVerifier(t *testing.T) *security.Verifier {
	t.Helper()
	v, err := security.NewVerifier(testOpts)
	require.NoError(t, err)
	return v
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := security.Generate(testOpts, userID, nil)
	require.NoError(t, err)
	return tok
}

// assertConsistent checks that both indices describe the same set of sessions.
func assertConsistent(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()
	require.Equal(t, len(r.byUser), len(r.byConn), "index sizes differ")
	for u, s := range r.byUser {
		require.Equal(t, u, s.UserID)
		got, ok := r.byConn[s.Conn]
		require.True(t, ok, "forward entry %s missing from reverse index", u)
		require.Equal(t, u, got)
	}
}
