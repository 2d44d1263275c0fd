package runtime

// LifecycleState tracks a plugin through the runtime's lifecycle.
type LifecycleState int

// Plugin lifecycle states.
const (
	// StateRegistered - plugin is registered but untouched.
	StateRegistered LifecycleState = iota

	// StateInitializing - init hook is running.
	StateInitializing

	// StateInitialized - init hook completed.
	StateInitialized

	// StateStarting - start hook is running.
	StateStarting

	// StateRunning - plugin is started.
	StateRunning

	// StateStopping - stop hook is running.
	StateStopping

	// StateStopped - plugin is stopped.
	StateStopped

	// StateDestroying - destroy hook is running.
	StateDestroying

	// StateDestroyed - plugin resources are released.
	StateDestroyed

	// StateErrored - a lifecycle hook failed.
	StateErrored
)

// String returns a string representation of the state.
func (s LifecycleState) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateDestroying:
		return "destroying"
	case StateDestroyed:
		return "destroyed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// IsActive reports whether the plugin has moved past registration and has
// not yet been destroyed or errored.
func (s LifecycleState) IsActive() bool {
	return s > StateRegistered && s < StateDestroyed
}
