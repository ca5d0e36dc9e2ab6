package notification

import (
	"context"
	"time"

	"PPresence/logger"
	"PPresence/service/presence"
	"PPresence/tools/ids"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// EventNotification is the live event name pushed to an online recipient.
const EventNotification = "notification"

var ErrInvalid = errors.New("invalid notification")

type Notification struct {
	ID        string         `json:"id" bson:"_id"`
	UserID    string         `json:"userId" bson:"user_id"`
	Type      string         `json:"type" bson:"type"`
	Title     string         `json:"title,omitempty" bson:"title,omitempty"`
	Body      string         `json:"body,omitempty" bson:"body,omitempty"`
	Data      map[string]any `json:"data,omitempty" bson:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt" bson:"created_at"`
}

// Store persists notifications. List returns newest first.
type Store interface {
	Save(ctx context.Context, n *Notification) error
	List(ctx context.Context, userID string, limit int) ([]Notification, error)
}

const DefaultListLimit = 50

// Notifier persists a notification and then pushes it live when the
// recipient is online.
type Notifier struct {
	store Store
	out   presence.Deliverer
	log   *zap.Logger
	now   func() time.Time
}

func NewNotifier(store Store, out presence.Deliverer, log *zap.Logger) *Notifier {
	if log == nil {
		log = logger.Named("notify")
	}
	return &Notifier{store: store, out: out, log: log, now: time.Now}
}

// Notify stores n (filling ID and CreatedAt when unset) and then emits it.
// A store failure is returned and nothing is emitted; an offline recipient is
// not an error, delivered is just false.
func (s *Notifier) Notify(ctx context.Context, n *Notification) (delivered bool, err error) {
	if n == nil || n.UserID == "" || n.Type == "" {
		return false, errors.Wrap(ErrInvalid, "userId and type are required")
	}
	if n.ID == "" {
		n.ID = ids.GenerateString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if err := s.store.Save(ctx, n); err != nil {
		return false, errors.Wrapf(err, "save notification for %s", n.UserID)
	}

	delivered = s.out.SendToUser(n.UserID, EventNotification, n)
	s.log.Debug("notification stored",
		zap.String("user_id", n.UserID), zap.String("id", n.ID),
		zap.String("type", n.Type), zap.Bool("live", delivered))
	return delivered, nil
}

func (s *Notifier) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if userID == "" {
		return nil, errors.Wrap(ErrInvalid, "userId is required")
	}
	if limit <= 0 || limit > 500 {
		limit = DefaultListLimit
	}
	return s.store.List(ctx, userID, limit)
}
