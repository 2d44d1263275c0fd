package session

import (
	"math"
	"sync"
	"time"
)

// DefaultCapacity bounds the action ring buffer.
const DefaultCapacity = 75

// Point is a 2D position associated with an interaction.
type Point struct {
	X float64
	Y float64
}

// DistanceTo returns the euclidean distance to another point.
func (p Point) DistanceTo(q Point) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Action is one recorded user interaction. Actions are written once and
// never mutated; they leave the buffer only by ring overwrite.
type Action struct {
	// Type names the interaction ("key", "gesture:swipe", "voice").
	Type string

	// Timestamp is when the interaction occurred.
	Timestamp time.Time

	// Duration is how long the interaction took.
	Duration time.Duration

	// Success reports whether the interaction achieved its intent.
	Success bool

	// Start and End bound the interaction's spatial extent.
	Start Point
	End   Point

	// Metadata carries capture-layer specifics the core does not interpret.
	Metadata map[string]any
}

// Speed returns the action's spatial speed in distance units per
// millisecond, or 0 for zero-duration actions.
func (a Action) Speed() float64 {
	ms := float64(a.Duration) / float64(time.Millisecond)
	if ms == 0 {
		return 0
	}
	return a.Start.DistanceTo(a.End) / ms
}

// History is a fixed-capacity circular buffer of actions. Add is O(1);
// the oldest entry is overwritten when full. Safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	buf   []Action
	head  int // next write position
	count int
}

// NewHistory creates a history with the given capacity.
// Non-positive capacities use DefaultCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{buf: make([]Action, capacity)}
}

// Add records an action, overwriting the oldest when full.
func (h *History) Add(a Action) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.head] = a
	h.head = (h.head + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// Len returns the number of retained actions.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Capacity returns the fixed buffer capacity.
func (h *History) Capacity() int {
	return len(h.buf)
}

// All returns the retained actions in chronological order regardless of
// wraparound.
func (h *History) All() []Action {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.slice(h.count)
}

// Latest returns up to n of the most recent actions, newest first.
func (h *History) Latest(n int) []Action {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n > h.count {
		n = h.count
	}
	chrono := h.slice(h.count)
	result := make([]Action, 0, n)
	for i := 0; i < n; i++ {
		result = append(result, chrono[len(chrono)-1-i])
	}
	return result
}

// Window returns the n most recent actions in chronological order;
// n <= 0 returns everything retained.
func (h *History) Window(n int) []Action {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > h.count {
		n = h.count
	}
	chrono := h.slice(h.count)
	return chrono[len(chrono)-n:]
}

// slice copies count entries in chronological order. Caller holds the lock.
func (h *History) slice(count int) []Action {
	start := h.head - count
	if start < 0 {
		start += len(h.buf)
	}
	result := make([]Action, count)
	for i := 0; i < count; i++ {
		result[i] = h.buf[(start+i)%len(h.buf)]
	}
	return result
}
