package notification

import (
	"context"
	"sync"
)

// MemoryStore keeps the most recent notifications per user in process. Used
// when no external store is configured.
type MemoryStore struct {
	mu      sync.Mutex
	byUser  map[string][]Notification
	perUser int
}

func NewMemoryStore(perUser int) *MemoryStore {
	if perUser <= 0 {
		perUser = 1000
	}
	return &MemoryStore{byUser: make(map[string][]Notification), perUser: perUser}
}

func (m *MemoryStore) Save(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.byUser[n.UserID], *n)
	if over := len(list) - m.perUser; over > 0 {
		list = append([]Notification(nil), list[over:]...)
	}
	m.byUser[n.UserID] = list
	return nil
}

func (m *MemoryStore) List(_ context.Context, userID string, limit int) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.byUser[userID]
	out := make([]Notification, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}
