// Package event provides the in-process publish/subscribe dispatcher at the
// heart of the flowsense runtime.
//
// Events are named with hierarchical colon topics ("core:plugin:started",
// "state:changed"). Handlers subscribe to exact names or wildcard patterns;
// for each published event, exact-name handlers run first in descending
// priority order, then wildcard handlers. Dispatch is synchronous: handlers
// run on the publisher's goroutine and each runs to completion before the
// next begins.
//
// # Loop protection
//
// The bus feeds components that react to events by publishing further
// events, so runaway chains are a first-class concern. Every dispatch
// carries a chain of in-flight event names in its context. A name exceeding
// the call-depth limit, or reappearing through other events while the chain
// is short, trips the circuit breaker: dispatch of that name is dropped and
// a "system:circuit-breaker" event is published in its place. The trip is
// self-healing; once the dispatch stack unwinds the name may be published
// again.
//
// Handlers that publish follow-up events should propagate their context:
//
//	bus.SubscribeFunc("intent:navigate_left", func(ctx context.Context, ev event.Event) error {
//	    bus.PublishContext(ctx, "cursor:moved", payload)
//	    return nil
//	})
//
// A handler that publishes without its context still stays inside the
// chain: while a top-level publish is in flight, state-less publishes on
// the same goroutine join its dispatch. Publishes on other goroutines are
// independent top-level dispatches.
//
// # Failure isolation
//
// A handler error or panic is caught, reported on "core:error", and never
// prevents the remaining handlers from running.
package event
