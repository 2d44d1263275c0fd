package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/flowsense/internal/event"
)

// Event topics published by the store.
const (
	// TopicChanged is emitted once per commit with a ChangePayload.
	TopicChanged event.Topic = "state:changed"
)

// LeafTopic returns the per-path change topic for a leaf,
// "state:{path}:changed".
func LeafTopic(path string) event.Topic {
	return event.Topic("state:" + path + ":changed")
}

// ChangePayload is the payload of TopicChanged events.
type ChangePayload struct {
	// Previous is the full tree before the commit.
	Previous map[string]any

	// Current is the full tree after the commit.
	Current map[string]any

	// Updates maps each changed leaf path to its new value; removed
	// leaves map to nil.
	Updates map[string]any
}

// LeafPayload is the payload of per-path change events.
type LeafPayload struct {
	Path     string
	Value    any
	Previous any
}

// Store is a hierarchical, dot-path-addressable value container with
// watchers and bounded undo history. Every commit snapshots the previous
// tree, emits change events through the owning bus, then notifies watchers.
//
// All mutation methods accept a context; callers reacting to bus events
// should pass their handler context through so the dispatch circuit breaker
// can see state-driven event loops.
type Store struct {
	bus *event.Bus

	mu        sync.Mutex
	tree      map[string]any
	snapshots *snapshotRing
	watchers  []*Watcher
	closed    bool

	defaultWindow time.Duration
	store         KV
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSnapshotCapacity bounds the undo history ring.
func WithSnapshotCapacity(n int) StoreOption {
	return func(s *Store) {
		s.snapshots = newSnapshotRing(n)
	}
}

// WithDebounceWindow sets the default window for debounced watchers.
func WithDebounceWindow(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.defaultWindow = d
		}
	}
}

// WithKV sets the external key-value collaborator used by Persist/Restore.
func WithKV(kv KV) StoreOption {
	return func(s *Store) {
		s.store = kv
	}
}

// New creates a store publishing through the given bus.
func New(bus *event.Bus, opts ...StoreOption) *Store {
	s := &Store{
		bus:           bus,
		tree:          make(map[string]any),
		snapshots:     newSnapshotRing(DefaultSnapshotCapacity),
		defaultWindow: DefaultDebounceWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a deep copy of the value at path. Absent or malformed paths
// report false rather than erroring.
func (s *Store) Get(path string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, ok := getPath(s.tree, path)
	if !ok {
		return nil, false
	}
	return cloneValue(val), true
}

// GetOr returns the value at path, or def when the path does not resolve.
func (s *Store) GetOr(path string, def any) any {
	if val, ok := s.Get(path); ok {
		return val
	}
	return def
}

// GetState returns a deep, independent copy of the full tree. Mutating the
// returned value never affects store-internal state.
func (s *Store) GetState() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTree(s.tree)
}

// Flatten returns the tree as leaf dot paths.
func (s *Store) Flatten() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return flattenTree(cloneTree(s.tree))
}

// SetOption configures a single Set call.
type SetOption func(*setConfig)

type setConfig struct {
	replace bool
}

// Replace disables object merging for this write; the new value replaces
// whatever is at the path.
func Replace() SetOption {
	return func(c *setConfig) {
		c.replace = true
	}
}

// Set writes a value at path. Object values merge into existing objects
// unless Replace is given; scalars always replace.
func (s *Store) Set(ctx context.Context, path string, value any, opts ...SetOption) {
	var cfg setConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	s.apply(ctx, func(tree map[string]any) {
		setPath(tree, path, value, !cfg.replace)
	})
}

// SetTree merges a partial tree into the store. All paths it touches are
// applied atomically with respect to observers: no watcher or subscriber
// sees a partially-applied update.
func (s *Store) SetTree(ctx context.Context, updates map[string]any) {
	s.apply(ctx, func(tree map[string]any) {
		mergeTree(tree, updates)
	})
}

// Delete removes the value at path.
func (s *Store) Delete(ctx context.Context, path string) bool {
	deleted := false
	s.apply(ctx, func(tree map[string]any) {
		deleted = deletePath(tree, path)
	})
	return deleted
}

// apply runs one commit: snapshot the previous tree, mutate, diff, then
// notify. Events and watchers run outside the lock so callbacks may safely
// read or write the store.
func (s *Store) apply(ctx context.Context, mutate func(tree map[string]any)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	previous := cloneTree(s.tree)
	mutate(s.tree)
	updates := diffLeaves(previous, s.tree)
	if len(updates) == 0 {
		s.mu.Unlock()
		return
	}

	s.snapshots.push(previous)
	current := cloneTree(s.tree)
	watchers := s.matchWatchers(updates, current)
	s.mu.Unlock()

	s.announce(ctx, previous, current, updates, watchers)
}

// watcherHit pairs a matched watcher with the value at its path.
type watcherHit struct {
	watcher *Watcher
	value   any
}

// matchWatchers selects watchers whose path covers any changed leaf,
// preserving registration order. Caller holds the lock.
func (s *Store) matchWatchers(updates map[string]any, current map[string]any) []watcherHit {
	var hits []watcherHit
	for _, w := range s.watchers {
		matched := false
		for leaf := range updates {
			if pathWithin(w.path, leaf) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		val, _ := getPath(current, w.path)
		hits = append(hits, watcherHit{watcher: w, value: cloneValue(val)})
	}
	return hits
}

// announce emits the commit: state:changed first, then one per-leaf event
// in path order, then watchers in registration order.
func (s *Store) announce(ctx context.Context, previous, current, updates map[string]any, watchers []watcherHit) {
	s.bus.PublishEvent(ctx, event.Event{
		Name:    TopicChanged,
		Source:  "state",
		Payload: ChangePayload{Previous: previous, Current: current, Updates: updates},
	})

	paths := make([]string, 0, len(updates))
	for path := range updates {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		prev, _ := getPath(previous, path)
		s.bus.PublishEvent(ctx, event.Event{
			Name:    LeafTopic(path),
			Source:  "state",
			Payload: LeafPayload{Path: path, Value: updates[path], Previous: prev},
		})
	}

	for _, hit := range watchers {
		hit.watcher.notify(hit.value)
	}
}

// Watch registers a callback for changes at or below path. Sync watchers
// fire once per commit; Debounced watchers coalesce commits within a
// trailing window. The returned watcher is individually revocable.
func (s *Store) Watch(path string, fn WatchFunc, opts ...WatchOption) *Watcher {
	w := &Watcher{
		id:     uuid.NewString(),
		path:   path,
		fn:     fn,
		mode:   WatchSync,
		window: s.defaultWindow,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.remove = func() { s.removeWatcher(w.id) }

	s.mu.Lock()
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()
	return w
}

func (s *Store) removeWatcher(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.watchers {
		if w.id == id {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			return
		}
	}
}

// History returns up to limit retained snapshots, newest first.
func (s *Store) History(limit int) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots.list(limit)
}

// TimeTravel restores the tree from stepsBack snapshots ago, truncating
// the newer snapshots. The rollback is announced like any other commit, so
// watchers observe it.
func (s *Store) TimeTravel(ctx context.Context, stepsBack int) error {
	if stepsBack < 1 {
		stepsBack = 1
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	snap, ok := s.snapshots.take(stepsBack)
	if !ok {
		s.mu.Unlock()
		return ErrNoHistory
	}

	previous := s.tree
	s.tree = cloneTree(snap.Tree)
	updates := diffLeaves(previous, s.tree)
	current := cloneTree(s.tree)
	watchers := s.matchWatchers(updates, current)
	s.mu.Unlock()

	if len(updates) > 0 {
		s.announce(ctx, previous, current, updates, watchers)
	}
	return nil
}

// Close revokes all watchers and detaches the store. Only the owning
// runtime calls this.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	watchers := s.watchers
	s.watchers = nil
	s.mu.Unlock()

	for _, w := range watchers {
		w.mu.Lock()
		w.cancelled = true
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.mu.Unlock()
	}
}
