package presence

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryPutGet(t *testing.T) {
	r := NewRegistry()
	h1 := newFakeConn("h1")

	assert.Nil(t, r.Put("u1", h1))
	got, ok := r.Get("u1")
	require.True(t, ok)
	assert.Same(t, h1, got)
	assert.Equal(t, 1, r.Size())

	u, ok := r.UserOf(h1)
	require.True(t, ok)
	assert.Equal(t, "u1", u)

	s, ok := r.Session("u1")
	require.True(t, ok)
	assert.False(t, s.ConnectedAt.IsZero())
	assertConsistent(t, r)
}

func TestRegistryPutReturnsEvicted(t *testing.T) {
	r := NewRegistry()
	h1, h2 := newFakeConn("h1"), newFakeConn("h2")

	r.Put("u1", h1)
	evicted := r.Put("u1", h2)
	assert.Same(t, h1, evicted)

	got, _ := r.Get("u1")
	assert.Same(t, h2, got)
	assert.Equal(t, 1, r.Size())

	// the evicted handle is gone from the reverse index too
	_, ok := r.UserOf(h1)
	assert.False(t, ok)
	_, ok = r.RemoveByHandle(h1)
	assert.False(t, ok)
	got, _ = r.Get("u1")
	assert.Same(t, h2, got)
	assertConsistent(t, r)
}

func TestRegistryPutSameHandleTwice(t *testing.T) {
	r := NewRegistry()
	h1 := newFakeConn("h1")
	r.Put("u1", h1)
	first, _ := r.Session("u1")

	assert.Nil(t, r.Put("u1", h1))
	again, _ := r.Session("u1")
	assert.Equal(t, first.ConnectedAt, again.ConnectedAt)
	assertConsistent(t, r)
}

func TestRegistryPutMovesHandleBetweenUsers(t *testing.T) {
	r := NewRegistry()
	h := newFakeConn("h")
	r.Put("a", h)
	r.Put("b", h)

	_, ok := r.Get("a")
	assert.False(t, ok)
	u, _ := r.UserOf(h)
	assert.Equal(t, "b", u)
	assertConsistent(t, r)
}

func TestRegistryPutIgnoresEmpty(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Put("", newFakeConn("h")))
	assert.Nil(t, r.Put("u", nil))
	assert.Equal(t, 0, r.Size())
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	h1 := newFakeConn("h1")
	r.Put("u1", h1)

	assert.True(t, r.Remove("u1"))
	assert.False(t, r.Remove("u1"))
	_, ok := r.UserOf(h1)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Size())
	assertConsistent(t, r)
}

func TestRegistryRemoveIf(t *testing.T) {
	r := NewRegistry()
	h1, h2 := newFakeConn("h1"), newFakeConn("h2")
	r.Put("u1", h1)
	r.Put("u1", h2)

	assert.False(t, r.RemoveIf("u1", h1), "stale handle must not remove the fresh session")
	got, _ := r.Get("u1")
	assert.Same(t, h2, got)

	assert.True(t, r.RemoveIf("u1", h2))
	assert.False(t, r.RemoveIf("u1", h2))
	assertConsistent(t, r)
}

func TestRegistryRemoveByHandle(t *testing.T) {
	r := NewRegistry()
	h1 := newFakeConn("h1")
	r.Put("u1", h1)

	u, ok := r.RemoveByHandle(h1)
	require.True(t, ok)
	assert.Equal(t, "u1", u)

	_, ok = r.RemoveByHandle(h1)
	assert.False(t, ok, "a handle can only be removed once")
	_, ok = r.RemoveByHandle(nil)
	assert.False(t, ok)
	assertConsistent(t, r)
}

func TestRegistrySnapshotsAreCopies(t *testing.T) {
	r := NewRegistry()
	r.Put("a", newFakeConn("ha"))
	r.Put("b", newFakeConn("hb"))

	ids := r.UserIDs()
	sessions := r.Sessions()
	r.Remove("a")
	r.Put("c", newFakeConn("hc"))

	assert.ElementsMatch(t, []string{"a", "b"}, ids)
	assert.Len(t, sessions, 2)
	assert.ElementsMatch(t, []string{"b", "c"}, r.UserIDs())
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry()
	r.Put("a", newFakeConn("ha"))
	r.Put("b", newFakeConn("hb"))

	out := r.Clear()
	assert.Len(t, out, 2)
	assert.Equal(t, 0, r.Size())
	assertConsistent(t, r)
}

// Random interleavings of every mutation must leave both indices agreeing:
// Get(u) == h iff UserOf(h) == u.
func TestRegistryConcurrentConsistency(t *testing.T) {
	r := NewRegistry()
	const users, handles, workers, ops = 16, 64, 8, 2000

	pool := make([]*fakeConn, handles)
	for i := range pool {
		pool[i] = newFakeConn(fmt.Sprintf("h%d", i))
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < ops; i++ {
				u := fmt.Sprintf("u%d", rnd.Intn(users))
				h := pool[rnd.Intn(handles)]
				switch rnd.Intn(5) {
				case 0, 1:
					r.Put(u, h)
				case 2:
					r.Remove(u)
				case 3:
					r.RemoveByHandle(h)
				case 4:
					r.RemoveIf(u, h)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	assertConsistent(t, r)
	for _, h := range pool {
		if u, ok := r.UserOf(h); ok {
			got, ok := r.Get(u)
			require.True(t, ok)
			assert.Same(t, h, got)
		}
	}
	for _, s := range r.Sessions() {
		u, ok := r.UserOf(s.Conn)
		require.True(t, ok)
		assert.Equal(t, s.UserID, u)
	}
}
