package natsx

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Message 统一消息对象
type Message struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

func fromNats(m *nats.Msg) Message {
	msg := Message{Subject: m.Subject, Data: append([]byte(nil), m.Data...)}
	if len(m.Header) > 0 {
		msg.Header = make(map[string]string, len(m.Header))
		for k := range m.Header {
			msg.Header[k] = m.Header.Get(k)
		}
	}
	return msg
}

// Handler 业务处理函数
type Handler func(ctx context.Context, msg Message) error

// Middleware 中间件（日志、幂等等）
type Middleware func(Handler) Handler

// Chain 组合中间件，mws[0] 在最外层
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// ----- 幂等 -----

type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
	Forget(key string)
}

// MemIdem 单进程内存实现；过期清理随 ctx 结束
type MemIdem struct {
	mu  sync.Mutex
	m   map[string]time.Time // key -> expire
	ttl time.Duration
	now func() time.Time
}

func NewMemIdem(ctx context.Context, defaultTTL time.Duration) *MemIdem {
	mi := &MemIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: time.Now}
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				mi.sweep()
			}
		}
	}()
	return mi
}

func (mi *MemIdem) sweep() {
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	for k, exp := range mi.m {
		if !exp.After(now) {
			delete(mi.m, k)
		}
	}
}

func (mi *MemIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

// Forget drops key so a redelivery is processed again.
func (mi *MemIdem) Forget(key string) {
	mi.mu.Lock()
	delete(mi.m, key)
	mi.mu.Unlock()
}

func msgIDFromHeader(h map[string]string) string {
	// 标准头：Nats-Msg-Id；也兼容 X-Msg-Id
	for _, k := range []string{"Nats-Msg-Id", "X-Msg-Id"} {
		if v := h[k]; v != "" {
			return v
		}
	}
	return ""
}

// IdemMiddleware drops messages whose Nats-Msg-Id was already handled within
// ttl. Messages without an id always pass; so do messages the store cannot
// check. A failed handler forgets the id so a redelivery is retried.
func IdemMiddleware(store IdemStore, ttl time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			id := strings.TrimSpace(msgIDFromHeader(msg.Header))
			if id == "" {
				return next(ctx, msg)
			}
			seen, err := store.SeenOnce(id, ttl)
			if err != nil {
				return next(ctx, msg)
			}
			if seen {
				return nil
			}
			if err := next(ctx, msg); err != nil {
				store.Forget(id)
				return err
			}
			return nil
		}
	}
}
