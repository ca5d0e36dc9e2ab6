package natsx

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/service/notification"
	"PPresence/service/presence"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Subjects the bridge listens on.
const (
	SubjectUserPrefix = "presence.deliver.user."
	SubjectUser       = SubjectUserPrefix + "*"
	SubjectBroadcast  = "presence.deliver.broadcast"
	SubjectNotify     = "presence.notify"
)

var ErrBadMessage = errors.New("bad bridge message")

// UserDelivery is the body of presence.deliver.user.<userId>.
type UserDelivery struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// BroadcastDelivery is the body of presence.deliver.broadcast.
type BroadcastDelivery struct {
	Event        string          `json:"event"`
	Data         json.RawMessage `json:"data,omitempty"`
	ExceptUserID string          `json:"exceptUserId,omitempty"`
}

// Notifier is satisfied by *notification.Notifier.
type Notifier interface {
	Notify(ctx context.Context, n *notification.Notification) (bool, error)
}

// Bridge lets services on other hosts reach local connections through NATS.
type Bridge struct {
	nc      *nats.Conn
	queue   string
	out     presence.Deliverer
	notify  Notifier // optional
	handler Handler
	log     *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewBridge(nc *nats.Conn, queue string, out presence.Deliverer, notify Notifier, log *zap.Logger, mws ...Middleware) *Bridge {
	if log == nil {
		log = logger.Named("natsx")
	}
	b := &Bridge{nc: nc, queue: queue, out: out, notify: notify, log: log}
	b.handler = Chain(b.handle, mws...)
	return b
}

// Start subscribes to every bridge subject.
func (b *Bridge) Start() error {
	subjects := []string{SubjectUser, SubjectBroadcast}
	if b.notify != nil {
		subjects = append(subjects, SubjectNotify)
	}
	for _, subj := range subjects {
		var (
			sub *nats.Subscription
			err error
		)
		if b.queue == "" {
			sub, err = b.nc.Subscribe(subj, b.onMsg)
		} else {
			sub, err = b.nc.QueueSubscribe(subj, b.queue, b.onMsg)
		}
		if err != nil {
			b.Close()
			return errors.Wrapf(err, "subscribe %s", subj)
		}
		b.mu.Lock()
		b.subs = append(b.subs, sub)
		b.mu.Unlock()
	}
	b.log.Info("nats bridge subscribed", zap.Strings("subjects", subjects), zap.String("queue", b.queue))
	return nil
}

// Close drains the subscriptions; the connection itself belongs to the caller.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		_ = s.Drain()
	}
	b.subs = nil
}

func (b *Bridge) onMsg(m *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg := fromNats(m)
	if err := b.handler(ctx, msg); err != nil {
		b.log.Warn("bridge message failed", zap.String("subject", msg.Subject), zap.Error(err))
	}
	if m.Reply != "" {
		_ = m.Respond(nil)
	}
}

func (b *Bridge) handle(ctx context.Context, msg Message) error {
	switch {
	case strings.HasPrefix(msg.Subject, SubjectUserPrefix):
		userID := strings.TrimPrefix(msg.Subject, SubjectUserPrefix)
		var d UserDelivery
		if err := decodeBody(msg.Data, &d); err != nil {
			return err
		}
		if userID == "" || d.Event == "" {
			return errors.Wrap(ErrBadMessage, "user id and event are required")
		}
		ok := b.out.SendToUser(userID, d.Event, d.Data)
		b.log.Debug("bridge deliver", zap.String("user_id", userID), zap.String("event", d.Event), zap.Bool("live", ok))
		return nil

	case msg.Subject == SubjectBroadcast:
		var d BroadcastDelivery
		if err := decodeBody(msg.Data, &d); err != nil {
			return err
		}
		if d.Event == "" {
			return errors.Wrap(ErrBadMessage, "event is required")
		}
		n := b.out.BroadcastAllExcept(d.ExceptUserID, d.Event, d.Data)
		b.log.Debug("bridge broadcast", zap.String("event", d.Event), zap.Int("delivered", n))
		return nil

	case msg.Subject == SubjectNotify && b.notify != nil:
		var n notification.Notification
		if err := decodeBody(msg.Data, &n); err != nil {
			return err
		}
		_, err := b.notify.Notify(ctx, &n)
		return err
	}
	return errors.Wrapf(ErrBadMessage, "unexpected subject %s", msg.Subject)
}

func decodeBody(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(ErrBadMessage, err.Error())
	}
	return nil
}

// PublishToUser is the sending side of presence.deliver.user.<userId>, for
// collaborators running in other processes.
func PublishToUser(nc *nats.Conn, userID, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}
	body, err := json.Marshal(UserDelivery{Event: event, Data: data})
	if err != nil {
		return errors.Wrap(err, "marshal delivery")
	}
	return nc.Publish(SubjectUserPrefix+userID, body)
}
