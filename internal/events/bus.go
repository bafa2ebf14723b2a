package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler receives published events
type Handler func(event *Event)

// Bus is a synchronous publish/subscribe bus
type Bus struct {
	handlers map[EventType]map[int]Handler
	nextID   int
	mu       sync.RWMutex
	log      zerolog.Logger
}

// NewBus creates an event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType]map[int]Handler),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for an event type and returns an unsubscribe func
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[eventType][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// Emit publishes typed event data to all subscribers of its type.
// Handler panics are recovered so one subscriber cannot break the publisher.
func (b *Bus) Emit(module string, data EventData) {
	if b == nil || data == nil {
		return
	}

	event := &Event{
		Type:      data.EventType(),
		Module:    module,
		Timestamp: time.Now(),
		Data:      data,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type]))
	for _, h := range b.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, event)
	}
}

func (b *Bus) dispatch(h Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("event_type", string(event.Type)).Msg("Event handler panicked")
		}
	}()
	h(event)
}

// SubscriberCount returns the number of handlers for an event type
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
