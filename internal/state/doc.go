// Package state provides the hierarchical, path-addressable value store
// owned by the plugin runtime.
//
// Values live in a nested map tree addressed by dot paths ("user.name",
// "ui.cursor.x"). Writes merge object values and replace scalars, so a
// path's value shape is stable after first write and concurrent writes to
// disjoint paths never conflict. Every commit snapshots the previous tree
// into a bounded ring, enabling TimeTravel back through recent history.
//
// Commits are announced in a fixed order: a "state:changed" event carrying
// the previous tree, current tree, and changed leaf paths; then one
// "state:{path}:changed" event per changed leaf; then registered watchers,
// sync watchers first in registration order, debounced watchers after
// their trailing window elapses quietly.
//
// All values returned by Get and GetState are deep copies; callers may
// mutate them freely.
package state
