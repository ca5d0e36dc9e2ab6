package gateway

import (
	"net"
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/service/presence"
	"PPresence/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server upgrades /ws requests and drives each connection through the
// presence handshake.
type Server struct {
	handler  *presence.Handler
	opts     Options
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewServer(handler *presence.Handler, opts Options, log *zap.Logger) *Server {
	opts.norm()
	if log == nil {
		log = logger.Named("gateway")
	}
	s := &Server{handler: handler, opts: opts, log: log}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.opts.checkOrigin,
		Subprotocols:    []string{ConnectSubprotocol},
	}
	return s
}

func (s *Server) Options() Options { return s.opts }

// HandleWS ===== WebSocket 处理 =====
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败，Upgrade 已经写了响应
		s.log.Info("[WS] upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}

	conn := newWSConn(ids.GenerateString(), ws, s.opts, s.log)
	go conn.writePump()
	link := presence.NewLink(conn)

	in := &inbox{connect: make(chan *Frame, 1)}
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		s.readPump(conn, link, in)
	}()

	hs := presence.Handshake{Query: c.Request.URL.Query(), Header: c.Request.Header}
	// 只有声明了 connect 帧，或者 query/header 都没带凭证时才等
	if expectsConnectFrame(c.Request) || presence.ExtractCredential(hs) == "" {
		hs.Auth = s.awaitConnect(conn, in, readDone)
	}

	// errors are already reported to the peer and the observers
	_ = s.handler.Authenticate(link, hs)
	in.release(func(f *Frame) { s.handleFrame(conn, link, f) })

	<-readDone
	<-conn.done
}

func (s *Server) awaitConnect(conn *wsConn, in *inbox, readDone <-chan struct{}) map[string]any {
	timer := time.NewTimer(s.opts.HandshakeTimeout)
	defer timer.Stop()
	select {
	case f := <-in.connect:
		auth, err := f.AuthData()
		if err != nil {
			s.log.Debug("[WS] bad connect payload", zap.String("socket_id", conn.ID()), zap.Error(err))
		}
		return auth
	case <-timer.C:
		s.log.Debug("[WS] no connect frame before timeout", zap.String("socket_id", conn.ID()))
	case <-readDone:
	}
	return nil
}

// maxPending bounds frames queued while the handshake is still running.
const maxPending = 32

// inbox holds frames read before the handshake finished. The first connect
// frame goes to connect; everything else waits for release.
type inbox struct {
	mu         sync.Mutex
	released   bool
	gotConnect bool
	pending    []*Frame
	connect    chan *Frame
}

// offer queues f while the handshake runs. queued is false once the inbox is
// released; dropped means the pending queue was full.
func (in *inbox) offer(f *Frame) (queued, dropped bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.released {
		return false, false
	}
	if f.Event == EventConnect && !in.gotConnect {
		in.gotConnect = true
		in.connect <- f
		return true, false
	}
	if len(in.pending) >= maxPending {
		return true, true
	}
	in.pending = append(in.pending, f)
	return true, false
}

// release hands queued frames to fn in arrival order; later frames bypass the inbox.
func (in *inbox) release(fn func(*Frame)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.released = true
	for _, f := range in.pending {
		fn(f)
	}
	in.pending = nil
}

// ---- 读循环：只读，不写；出错即退出（写协程收尾） ----
func (s *Server) readPump(conn *wsConn, link *presence.Link, in *inbox) {
	ws := conn.ws
	defer func() {
		s.handler.Disconnect(link)
		conn.markDead()
		_ = conn.Close()
	}()

	ws.SetReadLimit(s.opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			s.logReadErr(conn.ID(), err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		f, err := ParseFrame(data)
		if err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			s.log.Info("[WS] bad frame", zap.String("socket_id", conn.ID()),
				zap.ByteString("sample", sample), zap.Int("len", len(data)), zap.Error(err))
			continue
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		if queued, dropped := in.offer(f); queued {
			if dropped {
				s.log.Debug("[WS] frame dropped during handshake",
					zap.String("socket_id", conn.ID()), zap.String("event", f.Event))
			}
			continue
		}
		s.handleFrame(conn, link, f)
	}
}

func (s *Server) handleFrame(conn *wsConn, link *presence.Link, f *Frame) {
	switch f.Event {
	case EventPing:
		_ = conn.Emit(EventPong, map[string]int64{"ts": time.Now().UnixMilli()})
	default:
		s.log.Debug("[WS] inbound event ignored",
			zap.String("socket_id", conn.ID()), zap.String("user_id", link.UserID()), zap.String("event", f.Event))
	}
}

func (s *Server) logReadErr(socketID string, err error) {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		s.log.Debug("[WS] peer closed", zap.String("socket_id", socketID))
	case isTimeout(err):
		s.log.Info("[WS] read timeout", zap.String("socket_id", socketID))
	default:
		s.log.Debug("[WS] read err", zap.String("socket_id", socketID), zap.Error(err))
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
