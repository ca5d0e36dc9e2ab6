package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"PPresence/service/presence"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrSendQueueFull: the peer is not draining its queue fast enough. The frame
// is dropped but the connection stays registered.
var ErrSendQueueFull = errors.New("send queue full")

// wsConn is the websocket implementation of presence.Conn. Emit only
// enqueues; a single writer goroutine owns every write to the socket.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	opts Options
	log  *zap.Logger

	send chan []byte
	quit chan struct{}
	done chan struct{} // closed when the writer has closed the socket

	closed    atomic.Bool
	dead      atomic.Bool
	closeOnce sync.Once
}

var _ presence.Conn = (*wsConn)(nil)

func newWSConn(id string, ws *websocket.Conn, opts Options, log *zap.Logger) *wsConn {
	return &wsConn{
		id:   id,
		ws:   ws,
		opts: opts,
		log:  log,
		send: make(chan []byte, opts.SendQueueSize),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Emit(event string, payload any) error {
	if !c.Alive() {
		return errors.Wrap(presence.ErrConnClosed, c.id)
	}
	b, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	select {
	case c.send <- b:
		return nil
	default:
		return errors.Wrapf(ErrSendQueueFull, "socket %s event %s", c.id, event)
	}
}

// Close asks the writer to flush what is queued, send a close frame and close
// the socket. Only the first call does anything.
func (c *wsConn) Close() error {
	err := errors.Wrap(presence.ErrConnClosed, c.id)
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.quit)
		err = nil
	})
	return err
}

func (c *wsConn) Alive() bool { return !c.closed.Load() && !c.dead.Load() }

// markDead is called when the transport failed underneath us.
func (c *wsConn) markDead() { c.dead.Store(true) }

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case b := <-c.send:
			if err := c.write(b); err != nil {
				c.fail("write frame", err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.fail("ping", err)
				return
			}
		case <-c.quit:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteWait))
			return
		}
	}
}

// flush writes whatever is still queued, so an error or session_replaced
// event emitted right before Close reaches the peer.
func (c *wsConn) flush() {
	for {
		select {
		case b := <-c.send:
			if err := c.write(b); err != nil {
				c.fail("flush frame", err)
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(b []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *wsConn) fail(op string, err error) {
	c.markDead()
	c.log.Info("[WS] write failed", zap.String("socket_id", c.id), zap.String("op", op), zap.Error(err))
}
