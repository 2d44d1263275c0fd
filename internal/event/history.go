package event

// historyRing is a fixed-capacity, overwrite-oldest buffer of events.
// Not safe for concurrent use; the bus guards it.
type historyRing struct {
	buf   []Event
	head  int // next write position
	count int
}

func newHistoryRing(capacity int) *historyRing {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &historyRing{buf: make([]Event, capacity)}
}

// add records an event, evicting the oldest when full.
func (r *historyRing) add(ev Event) {
	r.buf[r.head] = ev
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// list returns up to limit of the most recent events in chronological
// order, optionally filtered by name. A name with wildcards filters by
// pattern match; an empty name matches everything. limit <= 0 means all.
func (r *historyRing) list(name Topic, limit int) []Event {
	if r.count == 0 {
		return nil
	}

	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}

	matched := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(start+i)%len(r.buf)]
		if name != "" && ev.Name != name && !ev.Name.Matches(name) {
			continue
		}
		matched = append(matched, ev)
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}
