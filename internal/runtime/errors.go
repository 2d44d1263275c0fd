package runtime

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Runtime errors.
var (
	// ErrEmptyName is returned when a plugin reports an empty name.
	ErrEmptyName = errors.New("plugin name is empty")

	// ErrDuplicateActive is returned when registering a name whose current
	// plugin is already past the registered state.
	ErrDuplicateActive = errors.New("plugin name already active")

	// ErrPluginNotFound is returned when a plugin cannot be located.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrAlreadyInitialized is returned when Init is called twice.
	ErrAlreadyInitialized = errors.New("runtime already initialized")

	// ErrNotInitialized is returned when Start precedes Init.
	ErrNotInitialized = errors.New("runtime not initialized")

	// ErrDestroyed is returned when operating on a destroyed runtime.
	ErrDestroyed = errors.New("runtime destroyed")

	// ErrPluginInitTimeout is returned when a plugin's init hook exceeds
	// its declared timeout.
	ErrPluginInitTimeout = errors.New("plugin init timed out")

	// ErrPluginInitFailure marks init-phase plugin failures.
	ErrPluginInitFailure = errors.New("plugin init failed")

	// ErrPluginStartFailure marks start-phase plugin failures.
	ErrPluginStartFailure = errors.New("plugin start failed")
)

// DegradedError reports that the runtime came up without one or more
// critical plugins. The runtime remains usable; callers decide whether a
// degraded boot is acceptable.
type DegradedError struct {
	// Failures maps plugin name to its init error.
	Failures map[string]error
}

// Error lists the failed plugins in stable order.
func (e *DegradedError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("runtime degraded, %d plugin(s) failed init: %s",
		len(names), strings.Join(names, ", "))
}

// Is reports ErrPluginInitFailure so callers can match the class without
// unpacking the map.
func (e *DegradedError) Is(target error) bool {
	return target == ErrPluginInitFailure
}

// Unwrap exposes the individual plugin errors.
func (e *DegradedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for name, err := range e.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errs
}
