package event

import (
	"bytes"
	"context"
	"runtime"
	"strconv"
)

// BreakerLimits bounds recursive dispatch. Tests typically configure low
// limits; production keeps the defaults.
type BreakerLimits struct {
	// MaxCallDepth is the maximum number of times a single event name may
	// appear in one dispatch tree before further dispatch is dropped.
	MaxCallDepth int

	// MaxChainLength bounds the window in which a reappearing event name
	// is treated as a cycle.
	MaxChainLength int
}

// DefaultBreakerLimits returns the production limits.
func DefaultBreakerLimits() BreakerLimits {
	return BreakerLimits{
		MaxCallDepth:   100,
		MaxChainLength: 50,
	}
}

// dispatchState tracks the chain of event names being dispatched within one
// top-level publish. It travels through the handler context; nested
// publishes that carry no state instead join the chain recorded for their
// goroutine on the bus, so a handler re-publishing through plain Publish
// stays visible to the breaker. A publish on a different goroutine with a
// fresh context is a new top-level dispatch.
type dispatchState struct {
	chain []Topic
	depth map[Topic]int

	// inBreaker guards against recursive trips while the breaker event
	// itself is being dispatched.
	inBreaker bool
}

type dispatchStateKey struct{}

// stateFromContext returns the dispatch state carried by ctx, if any.
func stateFromContext(ctx context.Context) *dispatchState {
	st, _ := ctx.Value(dispatchStateKey{}).(*dispatchState)
	return st
}

// withState attaches a dispatch state to a context.
func withState(ctx context.Context, st *dispatchState) context.Context {
	return context.WithValue(ctx, dispatchStateKey{}, st)
}

// goroutineID parses the current goroutine's id from its stack header
// ("goroutine 123 [running]:"). It anchors the bus-level dispatch fallback
// for publishes that carry no context state; nothing else depends on it.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// enter records name on the chain. It returns a leave function and a zero
// trip value on success; on failure it reports why dispatch must be dropped.
//
// Direct self-recursion (the name republishing itself) is governed by the
// depth limit; a name reappearing deeper in the chain through other events
// is a cycle, flagged while the chain is still within MaxChainLength.
func (st *dispatchState) enter(name Topic, limits BreakerLimits) (leave func(), trip BreakerTrip, ok bool) {
	if st.depth == nil {
		st.depth = make(map[Topic]int)
	}

	if st.depth[name]+1 > limits.MaxCallDepth {
		return nil, TripMaxDepth, false
	}
	if len(st.chain)+1 > limits.MaxChainLength {
		return nil, TripMaxDepth, false
	}
	if st.indirectCycle(name) {
		return nil, TripCycle, false
	}

	st.chain = append(st.chain, name)
	st.depth[name]++

	return func() {
		st.chain = st.chain[:len(st.chain)-1]
		st.depth[name]--
		if st.depth[name] == 0 {
			delete(st.depth, name)
		}
	}, "", true
}

// indirectCycle reports whether name already appears in the chain somewhere
// other than the tail. Tail reappearance is plain self-recursion and is left
// to the depth counter.
func (st *dispatchState) indirectCycle(name Topic) bool {
	if len(st.chain) == 0 || st.chain[len(st.chain)-1] == name {
		return false
	}
	for _, n := range st.chain[:len(st.chain)-1] {
		if n == name {
			return true
		}
	}
	return false
}

// snapshot copies the current chain for breaker event payloads.
func (st *dispatchState) snapshot() []Topic {
	chain := make([]Topic, len(st.chain))
	copy(chain, st.chain)
	return chain
}
