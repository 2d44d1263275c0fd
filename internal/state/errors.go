package state

import "errors"

// Sentinel errors for the state store.
var (
	// ErrNoHistory is returned when TimeTravel asks for more steps than
	// the snapshot ring retains.
	ErrNoHistory = errors.New("time travel exceeds retained history")

	// ErrKeyNotFound is returned by key-value collaborators when a key
	// has never been persisted.
	ErrKeyNotFound = errors.New("key not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("state store is closed")
)
