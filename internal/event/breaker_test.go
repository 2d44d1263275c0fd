package event

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestBreaker_MaxDepthHaltsSelfRecursion(t *testing.T) {
	bus := New(WithBreakerLimits(BreakerLimits{MaxCallDepth: 3}))

	var trips []BreakerPayload
	bus.SubscribeFunc(TopicCircuitBreaker, func(ctx context.Context, ev Event) error {
		trips = append(trips, ev.Payload.(BreakerPayload))
		return nil
	})

	depth := 0
	bus.SubscribeFunc("loop", func(ctx context.Context, ev Event) error {
		depth++
		bus.PublishContext(ctx, "loop", nil)
		return nil
	})

	bus.Publish("loop", nil)

	// With a depth limit of 3 the handler runs three times; the fourth
	// nested publish trips the breaker instead of recursing.
	if depth != 3 {
		t.Errorf("handler recursed %d times, want 3", depth)
	}
	if len(trips) != 1 {
		t.Fatalf("got %d breaker trips, want 1", len(trips))
	}
	if trips[0].EventName != "loop" {
		t.Errorf("EventName = %q, want loop", trips[0].EventName)
	}
	if trips[0].Type != TripMaxDepth {
		t.Errorf("Type = %q, want %q", trips[0].Type, TripMaxDepth)
	}
}

func TestBreaker_CycleDetectedThroughIntermediary(t *testing.T) {
	bus := New(WithBreakerLimits(BreakerLimits{MaxCallDepth: 100, MaxChainLength: 50}))

	var trips []BreakerPayload
	bus.SubscribeFunc(TopicCircuitBreaker, func(ctx context.Context, ev Event) error {
		trips = append(trips, ev.Payload.(BreakerPayload))
		return nil
	})

	aCalls := 0
	bus.SubscribeFunc("cycle:a", func(ctx context.Context, ev Event) error {
		aCalls++
		bus.PublishContext(ctx, "cycle:b", nil)
		return nil
	})
	bus.SubscribeFunc("cycle:b", func(ctx context.Context, ev Event) error {
		bus.PublishContext(ctx, "cycle:a", nil)
		return nil
	})

	bus.Publish("cycle:a", nil)

	if aCalls != 1 {
		t.Errorf("cycle:a ran %d times, want 1", aCalls)
	}
	if len(trips) != 1 {
		t.Fatalf("got %d breaker trips, want 1", len(trips))
	}
	if trips[0].Type != TripCycle {
		t.Errorf("Type = %q, want %q", trips[0].Type, TripCycle)
	}
	if trips[0].EventName != "cycle:a" {
		t.Errorf("EventName = %q, want cycle:a", trips[0].EventName)
	}
}

func TestBreaker_SelfHealsAfterUnwind(t *testing.T) {
	bus := New(WithBreakerLimits(BreakerLimits{MaxCallDepth: 2}))

	calls := 0
	bus.SubscribeFunc("heal:loop", func(ctx context.Context, ev Event) error {
		calls++
		bus.PublishContext(ctx, "heal:loop", nil)
		return nil
	})

	bus.Publish("heal:loop", nil)
	first := calls

	// A fresh top-level publish is not poisoned by the earlier trip.
	bus.Publish("heal:loop", nil)

	if calls != first*2 {
		t.Errorf("second publish ran %d handlers, want %d", calls-first, first)
	}
}

func TestBreaker_PlainPublishJoinsActiveChain(t *testing.T) {
	bus := New(WithBreakerLimits(BreakerLimits{MaxCallDepth: 3}))

	calls := 0
	bus.SubscribeFunc("ctxless:loop", func(ctx context.Context, ev Event) error {
		calls++
		// Re-publishing without the handler context still lands on the
		// chain of the publish that triggered this handler.
		bus.Publish("ctxless:loop", nil)
		return nil
	})

	bus.Publish("ctxless:loop", nil)

	if calls != 3 {
		t.Errorf("handler ran %d times, want 3", calls)
	}
	if got := bus.Stats().BreakerTrips; got != 1 {
		t.Errorf("BreakerTrips = %d, want 1", got)
	}
}

func TestBreaker_SeparateGoroutinesDispatchIndependently(t *testing.T) {
	bus := New(WithBreakerLimits(BreakerLimits{MaxCallDepth: 2}))

	var calls atomic.Int32
	bus.SubscribeFunc("solo:event", func(ctx context.Context, ev Event) error {
		calls.Add(1)
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Publish("solo:event", nil)
	}()
	bus.Publish("solo:event", nil)
	<-done

	if got := calls.Load(); got != 2 {
		t.Errorf("handler ran %d times, want 2", got)
	}
	if bus.Stats().BreakerTrips != 0 {
		t.Errorf("BreakerTrips = %d, want 0 for unrelated publishes", bus.Stats().BreakerTrips)
	}
}

func TestBreaker_ChainLengthBound(t *testing.T) {
	bus := New(WithBreakerLimits(BreakerLimits{MaxCallDepth: 100, MaxChainLength: 4}))

	tripped := false
	bus.SubscribeFunc(TopicCircuitBreaker, func(ctx context.Context, ev Event) error {
		tripped = true
		return nil
	})

	// Each step publishes a distinct topic, so only the chain bound applies.
	for i := 0; i < 10; i++ {
		i := i
		bus.SubscribeFunc(Topic("chain:"+string(rune('a'+i))), func(ctx context.Context, ev Event) error {
			bus.PublishContext(ctx, Topic("chain:"+string(rune('a'+i+1))), nil)
			return nil
		})
	}

	bus.Publish("chain:a", nil)

	if !tripped {
		t.Error("expected chain length bound to trip the breaker")
	}
}
