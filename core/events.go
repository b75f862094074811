package core

import (
	"sync"
	"time"
)

// Engine event names. Collaborators subscribe to these through the Bus and
// may forward them to NATS, websockets, or persistent storage.
const (
	EventAgentRegistered   = "agent:registered"
	EventProposalCreated   = "proposal:created"
	EventVoteSubmitted     = "vote:submitted"
	EventByzantineDetected = "byzantine:detected"
	EventAgentQuarantined  = "agent:quarantined"
	EventProposalFinalized = "proposal:finalized"
	EventCleanupCompleted  = "cleanup:completed"
)

// Event is a single engine notification. Payload shape depends on the event
// name; all payloads are JSON-marshalable.
type Event struct {
	Name      string      `json:"name"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Bus is the in-process event fan-out. Handlers run synchronously in
// registration order for a given event; ordering across different event
// names is not guaranteed and handlers must not assume it.
type Bus struct {
	mu       sync.RWMutex
	handlers []func(Event)
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for every published event. Handlers are
// fire-and-forget: the publisher ignores anything they do or fail to do.
func (b *Bus) Subscribe(handler func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish delivers the event to all current subscribers.
func (b *Bus) Publish(name string, payload interface{}) {
	event := Event{
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	handlers := make([]func(Event), len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
