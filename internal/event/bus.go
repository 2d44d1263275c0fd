package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryCapacity bounds the bus event history ring.
const DefaultHistoryCapacity = 150

// Middleware inspects or rewrites an event before dispatch. Returning
// false cancels dispatch of that event; middlewares run in registration
// order and the first cancellation short-circuits the chain.
type Middleware func(ev Event) (Event, bool)

// Stats contains bus counters.
type Stats struct {
	EventsPublished uint64
	EventsDelivered uint64
	EventsDropped   uint64
	HandlerErrors   uint64
	HandlerPanics   uint64
	BreakerTrips    uint64
	Subscriptions   int
}

// Bus is a synchronous publish/subscribe dispatcher with priority ordering,
// wildcard subscriptions, middleware, bounded history, and loop protection.
//
// Dispatch runs on the publisher's goroutine: each handler runs to
// completion before the next, and nested publishes from handlers execute
// inline. Registration is safe for concurrent use.
type Bus struct {
	registry *registry

	mu         sync.Mutex // guards middleware and history
	middleware []Middleware
	history    *historyRing

	limits BreakerLimits

	// active maps a publishing goroutine to its in-flight top-level
	// dispatch state. Nested publishes whose context carries no state
	// join their goroutine's entry, so a handler re-publishing through
	// plain Publish stays inside the chain the breaker is watching.
	dispatchMu sync.Mutex
	active     map[uint64]*dispatchState

	subSeq atomic.Uint64

	eventsPublished atomic.Uint64
	eventsDelivered atomic.Uint64
	eventsDropped   atomic.Uint64
	handlerErrors   atomic.Uint64
	handlerPanics   atomic.Uint64
	breakerTrips    atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistoryCapacity sets the history ring capacity.
func WithHistoryCapacity(n int) Option {
	return func(b *Bus) {
		b.history = newHistoryRing(n)
	}
}

// WithBreakerLimits overrides the circuit-breaker thresholds.
func WithBreakerLimits(limits BreakerLimits) Option {
	return func(b *Bus) {
		if limits.MaxCallDepth > 0 {
			b.limits.MaxCallDepth = limits.MaxCallDepth
		}
		if limits.MaxChainLength > 0 {
			b.limits.MaxChainLength = limits.MaxChainLength
		}
	}
}

// New creates a new event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		registry: newRegistry(),
		history:  newHistoryRing(DefaultHistoryCapacity),
		limits:   DefaultBreakerLimits(),
		active:   make(map[uint64]*dispatchState),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a topic pattern and returns the
// subscription, which can be individually cancelled.
func (b *Bus) Subscribe(pattern Topic, handler Handler, opts ...SubscriptionOption) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if !pattern.IsValid() {
		return nil, ErrInvalidTopic
	}

	sub := newSubscription(uuid.NewString(), pattern, handler, b.subSeq.Add(1), opts...)
	sub.remove = func() { b.registry.remove(sub.id) }
	b.registry.add(sub)
	return sub, nil
}

// SubscribeFunc registers a function handler.
func (b *Bus) SubscribeFunc(pattern Topic, fn HandlerFunc, opts ...SubscriptionOption) (*Subscription, error) {
	return b.Subscribe(pattern, fn, opts...)
}

// Once registers a handler that is unsubscribed before its first
// invocation runs.
func (b *Bus) Once(name Topic, handler Handler, opts ...SubscriptionOption) (*Subscription, error) {
	return b.Subscribe(name, handler, append(opts, WithOnce())...)
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub != nil {
		sub.Cancel()
	}
}

// Use appends a middleware to the dispatch chain.
func (b *Bus) Use(mw Middleware) {
	if mw == nil {
		return
	}
	b.mu.Lock()
	b.middleware = append(b.middleware, mw)
	b.mu.Unlock()
}

// Publish dispatches an event to all matching handlers, returning true if
// at least one handler ran.
func (b *Bus) Publish(name Topic, payload any) bool {
	return b.PublishContext(context.Background(), name, payload)
}

// PublishFrom is Publish with an explicit source recorded on the event.
func (b *Bus) PublishFrom(source string, name Topic, payload any) bool {
	return b.publish(context.Background(), newEvent(name, payload, source))
}

// PublishContext dispatches an event, reusing any dispatch chain carried by
// ctx. Handlers that publish follow-up events should pass their context
// through so runaway chains stay visible to the circuit breaker.
func (b *Bus) PublishContext(ctx context.Context, name Topic, payload any) bool {
	return b.publish(ctx, newEvent(name, payload, ""))
}

// PublishEvent dispatches a caller-constructed event, filling in missing
// identity fields.
func (b *Bus) PublishEvent(ctx context.Context, ev Event) bool {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return b.publish(ctx, ev)
}

func (b *Bus) publish(ctx context.Context, ev Event) bool {
	if !ev.Name.IsValid() {
		return false
	}

	st := stateFromContext(ctx)
	if st == nil {
		gid := goroutineID()
		var owned bool
		st, owned = b.joinDispatch(gid)
		ctx = withState(ctx, st)
		if owned {
			defer b.leaveDispatch(gid)
		}
	}

	// The breaker event itself bypasses limit accounting so a trip can be
	// reported even when the chain is already at its bound; tripBreaker
	// guards against recursive trips.
	if ev.Name != TopicCircuitBreaker {
		leave, trip, ok := st.enter(ev.Name, b.limits)
		if !ok {
			b.tripBreaker(ctx, st, ev.Name, trip)
			return false
		}
		defer leave()
	}

	// Middleware runs before the event is recorded or dispatched.
	b.mu.Lock()
	middleware := make([]Middleware, len(b.middleware))
	copy(middleware, b.middleware)
	b.mu.Unlock()

	for _, mw := range middleware {
		next, keep := mw(ev)
		if !keep {
			b.eventsDropped.Add(1)
			return false
		}
		ev = next
	}

	b.mu.Lock()
	b.history.add(ev)
	b.mu.Unlock()
	b.eventsPublished.Add(1)

	ran := false
	for _, sub := range b.registry.match(ev.Name) {
		// Once-subscriptions are removed before the handler body runs.
		if sub.config.Once {
			sub.Cancel()
		}

		ran = true
		b.invoke(ctx, sub, ev)
	}
	return ran
}

// joinDispatch returns the dispatch state for a publish whose context
// carries none. While a top-level publish is in flight its state is
// recorded against the publishing goroutine, so a handler on that
// goroutine which re-publishes without threading its context still lands
// on the same chain. The first state-less publish on a goroutine owns the
// entry and clears it on return.
func (b *Bus) joinDispatch(gid uint64) (st *dispatchState, owned bool) {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()
	if st := b.active[gid]; st != nil {
		return st, false
	}
	st = &dispatchState{}
	b.active[gid] = st
	return st, true
}

func (b *Bus) leaveDispatch(gid uint64) {
	b.dispatchMu.Lock()
	delete(b.active, gid)
	b.dispatchMu.Unlock()
}

// invoke runs a single handler with panic isolation. Failures are reported
// on TopicError and never stop remaining handlers.
func (b *Bus) invoke(ctx context.Context, sub *Subscription, ev Event) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r}
				b.handlerPanics.Add(1)
			}
		}()
		err = sub.handler.Handle(ctx, ev)
	}()

	if err == nil {
		b.eventsDelivered.Add(1)
		return
	}

	if _, panicked := err.(*PanicError); !panicked {
		b.handlerErrors.Add(1)
	}

	// Failures of core:error handlers are counted but not re-reported.
	if ev.Name != TopicError {
		b.publish(ctx, newEvent(TopicError, ErrorPayload{
			Event:          ev,
			SubscriptionID: sub.id,
			Source:         sub.config.Source,
			Err:            err,
		}, "bus"))
	}
}

// tripBreaker reports a halted dispatch. The breaker event itself travels
// the normal dispatch path, but never recursively trips.
func (b *Bus) tripBreaker(ctx context.Context, st *dispatchState, name Topic, trip BreakerTrip) {
	b.breakerTrips.Add(1)
	b.eventsDropped.Add(1)

	if st.inBreaker {
		// A breaker handler re-triggered the trip; degrade to silently
		// dropping rather than recursing.
		return
	}
	st.inBreaker = true
	defer func() { st.inBreaker = false }()

	b.publish(ctx, newEvent(TopicCircuitBreaker, BreakerPayload{
		EventName: name,
		Type:      trip,
		Chain:     st.snapshot(),
	}, "bus"))
}

// WaitOnce blocks until the next event matching name is published, or the
// timeout elapses. A timeout leaves no residue on the bus.
func (b *Bus) WaitOnce(ctx context.Context, name Topic, timeout time.Duration) (Event, error) {
	ch := make(chan Event, 1)
	sub, err := b.Once(name, HandlerFunc(func(_ context.Context, ev Event) error {
		select {
		case ch <- ev:
		default:
		}
		return nil
	}))
	if err != nil {
		return Event{}, err
	}
	defer sub.Cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		return Event{}, ErrWaitTimeout
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// History returns up to limit of the most recent events in chronological
// order. name filters by exact topic or wildcard pattern; empty matches
// all. limit <= 0 returns everything retained.
func (b *Bus) History(name Topic, limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.list(name, limit)
}

// Stats returns current bus counters.
func (b *Bus) Stats() Stats {
	return Stats{
		EventsPublished: b.eventsPublished.Load(),
		EventsDelivered: b.eventsDelivered.Load(),
		EventsDropped:   b.eventsDropped.Load(),
		HandlerErrors:   b.handlerErrors.Load(),
		HandlerPanics:   b.handlerPanics.Load(),
		BreakerTrips:    b.breakerTrips.Load(),
		Subscriptions:   b.registry.count(),
	}
}

// Close removes all subscriptions. The bus owner calls this at destroy.
func (b *Bus) Close() {
	b.registry.clear()
}
