package event

import (
	"time"

	"github.com/google/uuid"
)

// Reserved topics emitted by the bus itself.
const (
	// TopicError carries handler failures. The payload is an ErrorPayload.
	TopicError Topic = "core:error"

	// TopicCircuitBreaker reports a tripped dispatch breaker.
	// The payload is a BreakerPayload.
	TopicCircuitBreaker Topic = "system:circuit-breaker"
)

// Event is a single published event. Events are immutable once published.
type Event struct {
	// ID uniquely identifies this event instance.
	ID string

	// Name is the hierarchical event topic.
	Name Topic

	// Payload is the event-specific data.
	Payload any

	// Timestamp is when the event was published.
	Timestamp time.Time

	// Source identifies the component that published the event.
	Source string
}

// newEvent builds an event with a fresh ID and timestamp.
func newEvent(name Topic, payload any, source string) Event {
	return Event{
		ID:        uuid.NewString(),
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now(),
		Source:    source,
	}
}

// ErrorPayload is the payload of TopicError events.
type ErrorPayload struct {
	// Event is the event whose handler failed.
	Event Event

	// SubscriptionID identifies the failing subscription.
	SubscriptionID string

	// Source is the failing subscriber's label, empty when unset.
	Source string

	// Err is the handler error, or the recovered panic wrapped as an error.
	Err error
}

// BreakerTrip classifies why the circuit breaker fired.
type BreakerTrip string

const (
	// TripMaxDepth means a single event name exceeded the call-depth limit.
	TripMaxDepth BreakerTrip = "max_depth_exceeded"

	// TripCycle means an event name reappeared in the dispatch chain.
	TripCycle BreakerTrip = "cycle_detected"
)

// BreakerPayload is the payload of TopicCircuitBreaker events.
type BreakerPayload struct {
	// EventName is the topic whose dispatch was halted.
	EventName Topic

	// Type is the kind of trip.
	Type BreakerTrip

	// Chain is the dispatch chain at the time of the trip.
	Chain []Topic
}
