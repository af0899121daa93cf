package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	closed  atomic.Bool
	reasons chan string
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{reasons: make(chan string, 4)}
}

func (h *fakeHandle) Disconnect(reason string) {
	select {
	case h.reasons <- reason:
	default:
	}
}

func (h *fakeHandle) Closed() bool { return h.closed.Load() }

func TestRegistry_RegisterUnregister(t *testing.T) {
	r := NewRegistry(2)
	id := uuid.New()

	require.NoError(t, r.TryRegister(Entry{UUID: id, Name: "crawler", ConnID: 1}, newFakeHandle()))
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 2, r.Max())

	t.Run("duplicate uuid rejected", func(t *testing.T) {
		err := r.TryRegister(Entry{UUID: id, Name: "crawler", ConnID: 2}, newFakeHandle())
		assert.ErrorIs(t, err, ErrAlreadyConnected)
		assert.Equal(t, 1, r.Count())
	})

	t.Run("lookup by name and uuid", func(t *testing.T) {
		e, ok := r.Lookup("CRAWLER")
		require.True(t, ok)
		assert.Equal(t, id, e.UUID)
		assert.False(t, e.JoinedAt.IsZero())

		e, ok = r.Lookup(id.String())
		require.True(t, ok)
		assert.Equal(t, "crawler", e.Name)

		_, ok = r.Lookup("nobody")
		assert.False(t, ok)
	})

	t.Run("unregister by another connection is ignored", func(t *testing.T) {
		assert.False(t, r.Unregister(id, 99))
		assert.Equal(t, 1, r.Count())
	})

	t.Run("unregister is idempotent", func(t *testing.T) {
		assert.True(t, r.Unregister(id, 1))
		assert.False(t, r.Unregister(id, 1))
		assert.Equal(t, 0, r.Count())
	})
}

func TestRegistry_Capacity(t *testing.T) {
	r := NewRegistry(1)
	require.NoError(t, r.TryRegister(Entry{UUID: uuid.New(), ConnID: 1}, nil))
	err := r.TryRegister(Entry{UUID: uuid.New(), ConnID: 2}, nil)
	assert.ErrorIs(t, err, ErrFull)
}

func TestRegistry_ConcurrentLoginsNeverExceedCap(t *testing.T) {
	const (
		capacity = 25
		logins   = 200
	)
	r := NewRegistry(capacity)

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
		rejected atomic.Int32
		start    = make(chan struct{})
	)
	for i := 0; i < logins; i++ {
		wg.Add(1)
		go func(conn uint64) {
			defer wg.Done()
			<-start
			err := r.TryRegister(Entry{UUID: uuid.New(), ConnID: conn}, nil)
			if err == nil {
				admitted.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrFull)
			rejected.Add(1)
		}(uint64(i))
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(capacity), admitted.Load())
	assert.Equal(t, int32(logins-capacity), rejected.Load())
	assert.Equal(t, capacity, r.Count())
}

func TestRegistry_KickAndSweep(t *testing.T) {
	r := NewRegistry(10)
	alive, dead := newFakeHandle(), newFakeHandle()
	aliveID, deadID := uuid.New(), uuid.New()

	require.NoError(t, r.TryRegister(Entry{UUID: aliveID, Name: "a", ConnID: 1, JoinedAt: time.Now().Add(-time.Minute)}, alive))
	require.NoError(t, r.TryRegister(Entry{UUID: deadID, Name: "b", ConnID: 2}, dead))

	assert.True(t, r.Kick(aliveID, "bye"))
	assert.Equal(t, "bye", <-alive.reasons)
	assert.False(t, r.Kick(uuid.New(), "bye"))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Name)

	dead.closed.Store(true)
	removed := r.Sweep()
	require.Len(t, removed, 1)
	assert.Equal(t, deadID, removed[0].UUID)
	assert.Equal(t, 1, r.Count())

	r.DisconnectAll("shutdown")
	assert.Equal(t, "shutdown", <-alive.reasons)
}
