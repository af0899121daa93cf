package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_Emit(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventPlayerJoined, "test", func(_ context.Context, e Event) error {
		got <- e
		return nil
	})
	require.Equal(t, 1, bus.HandlerCount(EventPlayerJoined))

	bus.Emit(context.Background(), Event{
		Type:    EventPlayerJoined,
		Source:  "test",
		Payload: PlayerPayload{Name: "crawler"},
	})

	select {
	case e := <-got:
		assert.Equal(t, "crawler", e.Payload.(PlayerPayload).Name)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func TestEventBus_PanicAndErrorsAreContained(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	bus.Subscribe(EventHeartbeat, "panics", func(context.Context, Event) error {
		calls.Add(1)
		panic("boom")
	})
	bus.Subscribe(EventHeartbeat, "fails", func(context.Context, Event) error {
		calls.Add(1)
		return errors.New("nope")
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventHeartbeat})
	assert.EqualError(t, err, "nope")
	assert.Equal(t, int32(2), calls.Load())
}

func TestEventBus_UnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	handler := func(context.Context, Event) error {
		calls.Add(1)
		return nil
	}
	bus.SubscribeMany([]EventType{EventPlayerJoined, EventPlayerLeft}, "counter", handler)
	assert.Equal(t, 1, bus.HandlerCount(EventPlayerLeft))

	bus.Unsubscribe(EventPlayerLeft, "counter")
	assert.Equal(t, 0, bus.HandlerCount(EventPlayerLeft))

	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventPlayerJoined}))
	assert.Equal(t, int32(1), calls.Load())

	bus.Stop()
	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventPlayerJoined})
	assert.Equal(t, int32(1), calls.Load())

	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel not closed")
	}
}

func TestEventBus_PerSubscriberOrder(t *testing.T) {
	bus := NewEventBus()

	var (
		mu   sync.Mutex
		seen []uint64
	)
	bus.SubscribeMany([]EventType{EventPlayerJoined, EventPlayerLeft}, "ordered", func(_ context.Context, e Event) error {
		mu.Lock()
		seen = append(seen, e.Payload.(PlayerPayload).ConnID)
		mu.Unlock()
		return nil
	})

	const n = 100
	for i := uint64(0); i < n; i++ {
		typ := EventPlayerJoined
		if i%2 == 1 {
			typ = EventPlayerLeft
		}
		bus.Emit(context.Background(), Event{Type: typ, Payload: PlayerPayload{ConnID: i}})
	}

	// Stop drains what is queued.
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, n)
	for i, id := range seen {
		assert.Equal(t, uint64(i), id)
	}
}

func TestEventBus_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	bus := NewEventBus()
	release := make(chan struct{})
	var calls atomic.Int32
	bus.Subscribe(EventStatusPing, "slow", func(context.Context, Event) error {
		<-release
		calls.Add(1)
		return nil
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < SubscriberQueueSize*2; i++ {
			bus.Emit(context.Background(), Event{Type: EventStatusPing})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}

	close(release)
	bus.Stop()
	assert.Less(t, calls.Load(), int32(SubscriberQueueSize*2))
	assert.GreaterOrEqual(t, calls.Load(), int32(SubscriberQueueSize))
}
