// Package runtime orchestrates plugin lifecycle over the shared event bus,
// state store, and session history.
//
// Plugins register with a priority. Priorities at or above CriticalPriority
// form the critical tier: their init hooks run concurrently on a bounded
// worker pool and Init joins them before returning. Everything below runs
// sequentially in the background after core:init:complete, announced by
// core:deferred:ready.
//
// A failed critical init never aborts the boot. The failure is isolated,
// reported on core:plugin:error, and surfaced to the caller as a
// DegradedError once the tier has joined. Start is stricter: the first
// start failure is fatal to the call.
//
// Teardown mirrors bring-up. Stop runs in reverse start order, Destroy in
// reverse registration order, and Destroy releases the bus and store last.
package runtime
