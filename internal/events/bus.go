package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// SubscriberQueueSize bounds the events waiting for one subscriber. Events
// beyond it are dropped so producers on the connection path never block.
const SubscriberQueueSize = 256

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus is an asynchronous publish-subscribe bus.
//
// Handlers are grouped by subscriber name. Each subscriber owns a queue and
// a goroutine, so one subscriber sees events in the order they were emitted
// (a player_left never overtakes its player_joined) while a slow subscriber
// only delays itself.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string]*subscriber
	byType  map[EventType][]*subscriber
	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

type subscriber struct {
	name     string
	handlers map[EventType]HandlerFunc
	queue    chan queuedEvent
}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		subs:   make(map[string]*subscriber),
		byType: make(map[EventType][]*subscriber),
		stopCh: make(chan struct{}),
	}
}

// Subscribe registers a handler for one event type under a subscriber name.
// Subscribing the same name to the same type again replaces the handler.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.stopped {
		return
	}

	s, ok := eb.subs[name]
	if !ok {
		s = &subscriber{
			name:     name,
			handlers: make(map[EventType]HandlerFunc),
			queue:    make(chan queuedEvent, SubscriberQueueSize),
		}
		eb.subs[name] = s
		eb.wg.Add(1)
		go eb.deliver(s)
	}
	if _, exists := s.handlers[eventType]; !exists {
		eb.byType[eventType] = append(eb.byType[eventType], s)
	}
	s.handlers[eventType] = handler

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// SubscribeMany registers the same handler for several event types.
func (eb *EventBus) SubscribeMany(types []EventType, name string, handler HandlerFunc) {
	for _, t := range types {
		eb.Subscribe(t, name, handler)
	}
}

// Unsubscribe removes a named handler from a specific event type. The
// subscriber's goroutine exits once it has no handlers left.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	s, ok := eb.subs[name]
	if !ok {
		return
	}
	if _, exists := s.handlers[eventType]; !exists {
		return
	}
	delete(s.handlers, eventType)

	list := eb.byType[eventType]
	filtered := make([]*subscriber, 0, len(list))
	for _, other := range list {
		if other != s {
			filtered = append(filtered, other)
		}
	}
	eb.byType[eventType] = filtered

	if len(s.handlers) == 0 {
		delete(eb.subs, name)
		if !eb.stopped {
			close(s.queue)
		}
	}

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("unsubscribed from event")
}

// Emit queues an event for every subscriber of its type and returns
// immediately. A subscriber whose queue is full misses the event.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}

	subs := eb.byType[event.Type]
	if len(subs) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(subs)).
		Msg("emitting event")

	for _, s := range subs {
		select {
		case s.queue <- queuedEvent{ctx: ctx, event: event}:
		default:
			log.Warn().
				Str("event", string(event.Type)).
				Str("handler", s.name).
				Msg("subscriber queue full, event dropped")
		}
	}
}

// EmitSync runs every handler of the event's type concurrently and waits
// for them, bypassing the subscriber queues. Returns the first error
// encountered, if any.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	type call struct {
		name    string
		handler HandlerFunc
	}
	calls := make([]call, 0, len(eb.byType[event.Type]))
	for _, s := range eb.byType[event.Type] {
		calls = append(calls, call{name: s.name, handler: s.handlers[event.Type]})
	}
	eb.mu.RUnlock()

	var (
		firstErr error
		errOnce  sync.Once
		wg       sync.WaitGroup
	)
	for _, c := range calls {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runHandler(ctx, c.name, c.handler, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}()
	}

	wg.Wait()
	return firstErr
}

func (eb *EventBus) deliver(s *subscriber) {
	defer eb.wg.Done()
	for q := range s.queue {
		eb.mu.RLock()
		h, ok := s.handlers[q.event.Type]
		eb.mu.RUnlock()
		if ok {
			_ = runHandler(q.ctx, s.name, h, q.event)
		}
	}
}

func runHandler(ctx context.Context, name string, h HandlerFunc, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = h(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", name).
			Msg("handler returned error")
	}
	return err
}

// Stop stops accepting events, lets every subscriber drain what is already
// queued and waits for it. Calling Stop twice is a no-op.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	for _, s := range eb.subs {
		close(s.queue)
	}
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.byType[eventType])
}
