package natsx

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"PPresence/service/notification"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type call struct {
	Kind, UserID, Event string
	Data                any
}

type fakeDeliverer struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeDeliverer) add(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeDeliverer) SendToUser(userID, event string, payload any) bool {
	f.add(call{"user", userID, event, payload})
	return true
}

func (f *fakeDeliverer) BroadcastAll(event string, payload any) int {
	f.add(call{"all", "", event, payload})
	return 1
}

func (f *fakeDeliverer) BroadcastAllExcept(except, event string, payload any) int {
	f.add(call{"except", except, event, payload})
	return 1
}

type fakeNotifier struct{ got []*notification.Notification }

func (f *fakeNotifier) Notify(_ context.Context, n *notification.Notification) (bool, error) {
	f.got = append(f.got, n)
	return true, nil
}

func TestBridgeUserDelivery(t *testing.T) {
	out := &fakeDeliverer{}
	b := NewBridge(nil, "", out, nil, zap.NewNop())

	err := b.handle(context.Background(), Message{
		Subject: "presence.deliver.user.u42",
		Data:    []byte(`{"event":"booking_created","data":{"id":"b1"}}`),
	})
	require.NoError(t, err)
	require.Len(t, out.calls, 1)
	c := out.calls[0]
	assert.Equal(t, "u42", c.UserID)
	assert.Equal(t, "booking_created", c.Event)
	assert.JSONEq(t, `{"id":"b1"}`, string(c.Data.(json.RawMessage)))
}

func TestBridgeBroadcast(t *testing.T) {
	out := &fakeDeliverer{}
	b := NewBridge(nil, "", out, nil, zap.NewNop())

	require.NoError(t, b.handle(context.Background(), Message{
		Subject: SubjectBroadcast,
		Data:    []byte(`{"event":"ping","data":{"v":1},"exceptUserId":"B"}`),
	}))
	require.Len(t, out.calls, 1)
	assert.Equal(t, "except", out.calls[0].Kind)
	assert.Equal(t, "B", out.calls[0].UserID)
}

func TestBridgeNotify(t *testing.T) {
	nf := &fakeNotifier{}
	b := NewBridge(nil, "", &fakeDeliverer{}, nf, zap.NewNop())

	require.NoError(t, b.handle(context.Background(), Message{
		Subject: SubjectNotify,
		Data:    []byte(`{"userId":"u1","type":"like","title":"hi"}`),
	}))
	require.Len(t, nf.got, 1)
	assert.Equal(t, "u1", nf.got[0].UserID)
	assert.Equal(t, "like", nf.got[0].Type)
}

func TestBridgeRejectsBadMessages(t *testing.T) {
	b := NewBridge(nil, "", &fakeDeliverer{}, nil, zap.NewNop())
	ctx := context.Background()

	for _, m := range []Message{
		{Subject: "presence.deliver.user.u1", Data: []byte(`not json`)},
		{Subject: "presence.deliver.user.", Data: []byte(`{"event":"x"}`)},
		{Subject: "presence.deliver.user.u1", Data: []byte(`{}`)},
		{Subject: SubjectBroadcast, Data: []byte(`{}`)},
		{Subject: SubjectNotify, Data: []byte(`{}`)}, // no notifier configured
		{Subject: "other", Data: []byte(`{}`)},
	} {
		assert.ErrorIs(t, b.handle(ctx, m), ErrBadMessage, m.Subject)
	}
}

func TestIdemMiddlewareDropsRepeats(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := 0
	h := Chain(func(context.Context, Message) error { n++; return nil },
		IdemMiddleware(NewMemIdem(ctx, time.Minute), 0))

	withID := Message{Subject: "s", Header: map[string]string{"Nats-Msg-Id": "m1"}}
	require.NoError(t, h(ctx, withID))
	require.NoError(t, h(ctx, withID))
	require.NoError(t, h(ctx, Message{Subject: "s"}))
	require.NoError(t, h(ctx, Message{Subject: "s"}))
	assert.Equal(t, 3, n)
}

func TestIdemMiddlewareRetriesFailedHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	fail := true
	h := Chain(func(context.Context, Message) error {
		calls++
		if fail {
			return errors.New("store down")
		}
		return nil
	}, IdemMiddleware(NewMemIdem(ctx, time.Minute), 0))

	msg := Message{Subject: SubjectNotify, Header: map[string]string{"Nats-Msg-Id": "n1"}}
	assert.Error(t, h(ctx, msg))
	fail = false
	require.NoError(t, h(ctx, msg), "redelivery after a failure is processed")
	require.NoError(t, h(ctx, msg), "and then deduplicated")
	assert.Equal(t, 2, calls)
}

type brokenIdem struct{}

func (brokenIdem) SeenOnce(string, time.Duration) (bool, error) {
	return false, errors.New("idem backend unavailable")
}
func (brokenIdem) Forget(string) {}

func TestIdemMiddlewarePassesWhenStoreFails(t *testing.T) {
	n := 0
	h := Chain(func(context.Context, Message) error { n++; return nil }, IdemMiddleware(brokenIdem{}, 0))
	msg := Message{Subject: "s", Header: map[string]string{"Nats-Msg-Id": "m1"}}
	require.NoError(t, h(context.Background(), msg))
	require.NoError(t, h(context.Background(), msg))
	assert.Equal(t, 2, n)
}

func TestMemIdemExpires(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mi := NewMemIdem(ctx, time.Minute)
	now := time.Now()
	mi.now = func() time.Time { return now }

	seen, _ := mi.SeenOnce("k", time.Second)
	assert.False(t, seen)
	seen, _ = mi.SeenOnce("k", time.Second)
	assert.True(t, seen)

	now = now.Add(2 * time.Second)
	mi.sweep()
	seen, _ = mi.SeenOnce("k", time.Second)
	assert.False(t, seen)
}

func TestConnectRequiresServers(t *testing.T) {
	_, err := Connect(Config{})
	assert.Error(t, err)
}
