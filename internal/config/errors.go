package config

import "errors"

// Configuration errors.
var (
	// ErrInvalidValue is returned when a config value is out of range.
	ErrInvalidValue = errors.New("invalid config value")

	// ErrWatcherClosed is returned when operating on a closed watcher.
	ErrWatcherClosed = errors.New("config watcher closed")
)
