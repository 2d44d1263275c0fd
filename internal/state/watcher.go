package state

import (
	"sync"
	"time"
)

// DefaultDebounceWindow is the trailing-edge window for debounced watchers.
const DefaultDebounceWindow = 16 * time.Millisecond

// WatchMode selects how a watcher observes commits.
type WatchMode int

const (
	// WatchSync fires once per commit, immediately after change events
	// are emitted, in registration order.
	WatchSync WatchMode = iota

	// WatchDebounced coalesces commits within a trailing window into one
	// callback carrying only the latest value.
	WatchDebounced
)

// String returns a human-readable mode name.
func (m WatchMode) String() string {
	switch m {
	case WatchSync:
		return "sync"
	case WatchDebounced:
		return "debounced"
	default:
		return "unknown"
	}
}

// WatchFunc receives the watched path and its value after a commit.
type WatchFunc func(path string, value any)

// WatchOption configures a watcher registration.
type WatchOption func(*Watcher)

// Debounced switches the watcher to trailing-edge debounced delivery.
// A non-positive window uses DefaultDebounceWindow.
func Debounced(window time.Duration) WatchOption {
	return func(w *Watcher) {
		w.mode = WatchDebounced
		if window > 0 {
			w.window = window
		}
	}
}

// Watcher is one registered observer of a state path. Each registration
// owns its own debounce timer handle and is individually revocable.
type Watcher struct {
	id     string
	path   string
	fn     WatchFunc
	mode   WatchMode
	window time.Duration

	mu        sync.Mutex
	timer     *time.Timer
	pending   any
	cancelled bool

	// remove detaches the watcher from the store. Set at registration.
	remove func()
}

// Path returns the watched path.
func (w *Watcher) Path() string {
	return w.path
}

// Mode returns the delivery mode.
func (w *Watcher) Mode() WatchMode {
	return w.mode
}

// Cancel revokes the registration and stops any pending debounce timer.
func (w *Watcher) Cancel() {
	w.mu.Lock()
	w.cancelled = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	if w.remove != nil {
		w.remove()
	}
}

// notify delivers a commit to the watcher. Sync watchers fire inline;
// debounced watchers restart their timer, replacing any pending value.
func (w *Watcher) notify(value any) {
	if w.mode == WatchSync {
		w.fn(w.path, value)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelled {
		return
	}

	w.pending = value
	// A new write cancels and restarts the pending window; values are
	// replaced, never merged.
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.window, w.fire)
}

// fire delivers the pending value after the window elapses quietly.
func (w *Watcher) fire() {
	w.mu.Lock()
	if w.cancelled {
		w.mu.Unlock()
		return
	}
	value := w.pending
	w.pending = nil
	w.timer = nil
	w.mu.Unlock()

	w.fn(w.path, value)
}
