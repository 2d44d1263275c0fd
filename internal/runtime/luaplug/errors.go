package luaplug

import "errors"

// Lua plugin errors.
var (
	// ErrEmptyName is returned when constructing a plugin without a name.
	ErrEmptyName = errors.New("lua plugin name is empty")

	// ErrEmptyScript is returned when constructing a plugin without source.
	ErrEmptyScript = errors.New("lua plugin script is empty")

	// ErrNotLoaded is returned when a hook runs before Init loaded the script.
	ErrNotLoaded = errors.New("lua plugin script not loaded")

	// ErrClosed is returned when operating on a destroyed plugin.
	ErrClosed = errors.New("lua plugin closed")

	// ErrBadHook is returned when a hook global is not a function.
	ErrBadHook = errors.New("lua hook is not a function")
)
