package event

import (
	"context"
	"sync/atomic"
)

// Handler is the interface for event handlers.
type Handler interface {
	// Handle processes an event. The context carries the current dispatch
	// chain; handlers that publish further events should pass it through
	// so the circuit breaker can observe the full chain.
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// SubscriptionState represents the state of a subscription.
type SubscriptionState int32

const (
	// SubscriptionActive means the subscription receives events.
	SubscriptionActive SubscriptionState = iota

	// SubscriptionPaused means delivery is temporarily suspended.
	SubscriptionPaused

	// SubscriptionCancelled means the subscription is permanently removed.
	SubscriptionCancelled
)

// String returns a human-readable state name.
func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionActive:
		return "active"
	case SubscriptionPaused:
		return "paused"
	case SubscriptionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SubscriptionConfig contains configuration for a subscription.
type SubscriptionConfig struct {
	// Priority determines execution order. Higher values execute first;
	// ties preserve registration order.
	Priority int

	// Once auto-cancels the subscription before its first invocation runs,
	// so a handler republishing its own topic is not re-entered through
	// its former registration.
	Once bool

	// Source labels the subscriber for diagnostics. Carried on error
	// reports alongside the subscription ID.
	Source string
}

// SubscriptionOption configures a subscription.
type SubscriptionOption func(*SubscriptionConfig)

// WithPriority sets the subscription priority. Higher runs first.
func WithPriority(p int) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Priority = p
	}
}

// WithOnce auto-cancels the subscription after the first matching event.
func WithOnce() SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Once = true
	}
}

// WithSource labels the subscriber for diagnostics.
func WithSource(source string) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Source = source
	}
}

// Subscription is an active registration against the bus.
type Subscription struct {
	id      string
	pattern Topic
	handler Handler
	config  SubscriptionConfig

	// seq orders subscriptions with equal priority by registration.
	seq uint64

	state atomic.Int32

	// remove detaches the subscription from the registry. Set by the bus.
	remove func()
}

func newSubscription(id string, pattern Topic, h Handler, seq uint64, opts ...SubscriptionOption) *Subscription {
	var config SubscriptionConfig
	for _, opt := range opts {
		opt(&config)
	}

	s := &Subscription{
		id:      id,
		pattern: pattern,
		handler: h,
		config:  config,
		seq:     seq,
	}
	s.state.Store(int32(SubscriptionActive))
	return s
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Pattern returns the subscribed topic pattern.
func (s *Subscription) Pattern() Topic {
	return s.pattern
}

// Priority returns the subscription priority.
func (s *Subscription) Priority() int {
	return s.config.Priority
}

// Source returns the subscriber label, empty when unset.
func (s *Subscription) Source() string {
	return s.config.Source
}

// State returns the current subscription state.
func (s *Subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

// IsActive reports whether the subscription can receive events.
func (s *Subscription) IsActive() bool {
	return s.State() == SubscriptionActive
}

// Pause temporarily stops delivery to this subscription.
func (s *Subscription) Pause() {
	s.state.CompareAndSwap(int32(SubscriptionActive), int32(SubscriptionPaused))
}

// Resume restarts delivery after a pause.
func (s *Subscription) Resume() {
	s.state.CompareAndSwap(int32(SubscriptionPaused), int32(SubscriptionActive))
}

// Cancel permanently removes the subscription from the bus.
func (s *Subscription) Cancel() {
	s.state.Store(int32(SubscriptionCancelled))
	if s.remove != nil {
		s.remove()
	}
}
