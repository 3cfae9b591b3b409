// Package events is a minimal pub/sub bus for rebalance-cycle lifecycle
// notifications (cycle started/completed). Adapted from the teacher's
// internal/events package: same snapshot-then-async-dispatch Emit pattern,
// narrowed to the event types this domain needs.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Type identifies a cycle lifecycle event.
type Type string

const (
	CycleStarted   Type = "cycle.started"
	CycleCompleted Type = "cycle.completed"
)

// Event is one published notification.
type Event struct {
	Type      Type
	Timestamp time.Time
	RunID     string
	Data      map[string]interface{}
}

// Handler receives published events.
type Handler func(Event)

// Bus provides pub/sub event dispatch decoupled from the executor.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type]map[uint64]Handler
	nextID      uint64
	log         zerolog.Logger
}

// NewBus creates an empty event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[Type]map[uint64]Handler),
		log:         log.With().Str("component", "events").Logger(),
	}
}

// Subscription identifies a registered handler for later Unsubscribe.
type Subscription struct {
	eventType Type
	id        uint64
}

// Subscribe registers handler for eventType.
func (b *Bus) Subscribe(eventType Type, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if _, ok := b.subscribers[eventType]; !ok {
		b.subscribers[eventType] = make(map[uint64]Handler)
	}
	b.subscribers[eventType][id] = handler
	return Subscription{eventType: eventType, id: id}
}

// Unsubscribe removes a previously registered handler. Safe to call twice.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if handlers, ok := b.subscribers[sub.eventType]; ok {
		delete(handlers, sub.id)
		if len(handlers) == 0 {
			delete(b.subscribers, sub.eventType)
		}
	}
}

// Emit publishes an event to every current subscriber of its type.
// Handlers run asynchronously and never block the publisher.
func (b *Bus) Emit(eventType Type, runID string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Data:      data,
	}

	b.mu.RLock()
	var handlers []Handler
	if registered := b.subscribers[eventType]; len(registered) > 0 {
		handlers = make([]Handler, 0, len(registered))
		for _, h := range registered {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		go h(event)
	}

	b.log.Debug().
		Str("event_type", string(eventType)).
		Str("run_id", runID).
		Int("subscribers", len(handlers)).
		Msg("event emitted")
}
