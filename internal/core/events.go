package core

import "sync"

// EventType identifies the kind of event fired on the bus.
type EventType int

const (
	EventSessionStateChanged EventType = iota
	EventNotification
	EventErrorNotice
	EventRequestProfile
	EventThroughput
	EventSessionTick
	EventProfilesChanged
	EventSubscriptionUpdated
	EventPublicAddressChanged
)

// Event carries data about something that happened in the system.
type Event struct {
	Type    EventType
	Payload any
}

// SessionStatePayload is the payload for EventSessionStateChanged.
type SessionStatePayload struct {
	OldState  SessionState
	NewState  SessionState
	ProfileID string
	Message   string
}

// NoticePayload is the payload for EventNotification and EventErrorNotice.
type NoticePayload struct {
	Message string
}

// TickPayload is the payload for EventSessionTick.
type TickPayload struct {
	Elapsed string
}

// SubscriptionUpdatePayload is the payload for EventSubscriptionUpdated.
type SubscriptionUpdatePayload struct {
	SubscriptionID string
	ProfileCount   int
	Err            error
}

// PublicAddressPayload is the payload for EventPublicAddressChanged.
type PublicAddressPayload struct {
	Address  string
	Location string
}

// Handler is a callback for bus subscribers.
type Handler func(Event)

// EventBus provides pub/sub between system components.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus creates a ready-to-use event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for a given event type.
func (eb *EventBus) Subscribe(t EventType, h Handler) {
	eb.mu.Lock()
	eb.handlers[t] = append(eb.handlers[t], h)
	eb.mu.Unlock()
}

// Publish fires an event to all subscribed handlers synchronously.
func (eb *EventBus) Publish(e Event) {
	eb.mu.RLock()
	handlers := eb.handlers[e.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// PublishAsync fires an event to all subscribed handlers in goroutines.
func (eb *EventBus) PublishAsync(e Event) {
	eb.mu.RLock()
	handlers := eb.handlers[e.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		go h(e)
	}
}
