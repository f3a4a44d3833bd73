package pipeline

import (
	"sync"
	"sync/atomic"
)

// EventBus provides pub/sub for control events.
// Handlers run synchronously on the publisher goroutine; channel subscribers
// never block the publisher and lose events when their buffer is full.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
	dropped     atomic.Uint64
}

type eventSubscription struct {
	filter  map[EventType]bool // nil means all event types
	channel chan *Event
	handler EventHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

func newFilter(types []EventType) map[EventType]bool {
	if len(types) == 0 {
		return nil
	}
	filter := make(map[EventType]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}
	return filter
}

// Subscribe registers a handler for the given event types (all when none given).
// Returns an unsubscribe function.
func (b *EventBus) Subscribe(handler EventHandler, types ...EventType) func() {
	sub := &eventSubscription{
		filter:  newFilter(types),
		handler: handler,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel receiving the given event types
// and an unsubscribe function that closes it
func (b *EventBus) SubscribeChannel(bufferSize int, types ...EventType) (<-chan *Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *Event, bufferSize)
	sub := &eventSubscription{
		filter:  newFilter(types),
		channel: ch,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish sends an event to all matching subscribers
func (b *EventBus) Publish(event *Event) {
	if b == nil || event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.filter != nil && !sub.filter[event.Type] {
			continue
		}

		if sub.handler != nil {
			sub.handler.OnEvent(event)
		} else if sub.channel != nil {
			select {
			case sub.channel <- event:
			default:
				b.dropped.Add(1)
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many events were lost on full subscriber channels
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
