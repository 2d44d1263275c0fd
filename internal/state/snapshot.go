package state

import "time"

// DefaultSnapshotCapacity bounds the undo history ring.
const DefaultSnapshotCapacity = 50

// Snapshot is one retained previous tree.
type Snapshot struct {
	// Tree is a deep copy of the tree before the commit that produced
	// this snapshot.
	Tree map[string]any

	// TakenAt is when the snapshot was captured.
	TakenAt time.Time
}

// snapshotRing retains the most recent previous trees, evicting the oldest
// on overflow. Not safe for concurrent use; the store guards it.
type snapshotRing struct {
	entries []Snapshot
	max     int
}

func newSnapshotRing(capacity int) *snapshotRing {
	if capacity <= 0 {
		capacity = DefaultSnapshotCapacity
	}
	return &snapshotRing{max: capacity}
}

// push records a previous tree, evicting the oldest entry when full.
func (r *snapshotRing) push(tree map[string]any) {
	r.entries = append(r.entries, Snapshot{Tree: tree, TakenAt: time.Now()})
	if len(r.entries) > r.max {
		excess := len(r.entries) - r.max
		r.entries = r.entries[excess:]
	}
}

// len returns the number of retained snapshots.
func (r *snapshotRing) len() int {
	return len(r.entries)
}

// take removes and returns the snapshot stepsBack from the newest end,
// discarding everything newer than it. take(1) is the most recent.
func (r *snapshotRing) take(stepsBack int) (Snapshot, bool) {
	if stepsBack < 1 || stepsBack > len(r.entries) {
		return Snapshot{}, false
	}
	idx := len(r.entries) - stepsBack
	snap := r.entries[idx]
	r.entries = r.entries[:idx]
	return snap, true
}

// list returns up to limit snapshots, newest first, as deep copies.
// limit <= 0 returns all.
func (r *snapshotRing) list(limit int) []Snapshot {
	n := len(r.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]Snapshot, 0, n)
	for i := 0; i < n; i++ {
		entry := r.entries[len(r.entries)-1-i]
		result = append(result, Snapshot{Tree: cloneTree(entry.Tree), TakenAt: entry.TakenAt})
	}
	return result
}
