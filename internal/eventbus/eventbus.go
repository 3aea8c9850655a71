// Package eventbus fans out publish-only call events to dashboard-style
// subscribers. Delivery is at-most-once and best-effort: a slow or absent
// subscriber never blocks the publishing session, and subscribers are
// expected to resynchronize via the control plane's REST surface after a
// missed event rather than relying on the bus for consistency.
package eventbus

import (
	"sync"
	"time"
)

// TranscriptUpdate is published whenever either side of a call produces a
// new (possibly partial) transcript segment.
type TranscriptUpdate struct {
	CallID        string    `json:"callId"`
	Speaker       string    `json:"speaker"` // "user" or "assistant"
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
	IsPartial     bool      `json:"isPartial"`
	IsInterruption bool     `json:"isInterruption,omitempty"`
	Truncated     bool      `json:"truncated,omitempty"`
}

// CallStatusChanged is published whenever a call's durable status
// transitions.
type CallStatusChanged struct {
	CallID    string    `json:"callId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextRequest is published when the agent pauses to ask the operator a
// question mid-conversation.
type ContextRequest struct {
	CallID      string    `json:"callId"`
	Question    string    `json:"question"`
	RequestedBy string    `json:"requestedBy"`
	Timestamp   time.Time `json:"timestamp"`
}

// Event is the envelope delivered to subscribers, tagging exactly one of
// its payload fields as populated.
type Event struct {
	Transcript     *TranscriptUpdate
	StatusChanged  *CallStatusChanged
	ContextRequest *ContextRequest
}

const subscriberBuffer = 32

// Bus fans out Events to any number of subscribers.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe registers a new subscriber and returns a receive-only channel
// of events along with an Unsubscribe function. The channel is closed
// when Unsubscribe is called.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// PublishTranscript publishes a transcript update to every subscriber like
// any other event. Partial updates are delivered as they arrive; no
// coalescing of earlier partials is done.
func (b *Bus) PublishTranscript(u TranscriptUpdate) {
	b.publish(Event{Transcript: &u})
}

// PublishStatusChanged publishes a call status transition.
func (b *Bus) PublishStatusChanged(callID, status string) {
	b.publish(Event{StatusChanged: &CallStatusChanged{
		CallID:    callID,
		Status:    status,
		Timestamp: time.Now(),
	}})
}

// PublishContextRequest publishes an operator context request.
func (b *Bus) PublishContextRequest(req ContextRequest) {
	b.publish(Event{ContextRequest: &req})
}

func (b *Bus) publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			// Best-effort delivery: a full subscriber channel means it's
			// falling behind. Drop the oldest buffered event and retry
			// once rather than blocking the publisher; this is also what
			// naturally coalesces a burst of partial transcripts into
			// whatever the subscriber reads last.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

// SubscriberCount reports the number of currently registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
