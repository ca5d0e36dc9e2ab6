package gateway

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type Options struct {
	HandshakeTimeout time.Duration // 等待 connect 帧的时间
	PingInterval     time.Duration
	PongWait         time.Duration // 读超时；每次 pong 续期
	WriteWait        time.Duration
	SendQueueSize    int
	ReadLimit        int64
	AllowedOrigins   []string // 空则不校验
}

func (o *Options) norm() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = o.PingInterval * 2
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 256
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
}

// checkOrigin accepts requests without an Origin header (non-browser clients)
// and, when an allow list is configured, browser requests from listed hosts.
func (o *Options) checkOrigin(r *http.Request) bool {
	if len(o.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range o.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// ConnectSubprotocol lets a client announce a connect frame through
// Sec-WebSocket-Protocol instead of the auth=frame query flag.
const ConnectSubprotocol = "presence.connect"

// expectsConnectFrame reports whether the client declared that its first frame
// carries the auth payload.
func expectsConnectFrame(r *http.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("auth"), "frame") {
		return true
	}
	for _, p := range websocket.Subprotocols(r) {
		if p == ConnectSubprotocol {
			return true
		}
	}
	return false
}
