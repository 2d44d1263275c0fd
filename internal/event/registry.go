package event

import (
	"sort"
	"sync"
)

// registry manages subscriptions organized by topic pattern.
// It is safe for concurrent access.
type registry struct {
	mu   sync.RWMutex
	subs map[Topic][]*Subscription
	byID map[string]*Subscription

	// patterns holds the subset of keys in subs containing wildcards.
	patterns map[Topic]struct{}
}

func newRegistry() *registry {
	return &registry{
		subs:     make(map[Topic][]*Subscription),
		byID:     make(map[string]*Subscription),
		patterns: make(map[Topic]struct{}),
	}
}

// add inserts a subscription under its pattern.
func (r *registry) add(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pattern := sub.Pattern()
	r.subs[pattern] = append(r.subs[pattern], sub)
	r.byID[sub.ID()] = sub
	if pattern.IsPattern() {
		r.patterns[pattern] = struct{}{}
	}
}

// remove deletes a subscription by ID.
func (r *registry) remove(subID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, exists := r.byID[subID]
	if !exists {
		return false
	}

	pattern := sub.Pattern()
	subs := r.subs[pattern]
	for i, s := range subs {
		if s.ID() == subID {
			r.subs[pattern] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(r.subs[pattern]) == 0 {
		delete(r.subs, pattern)
		delete(r.patterns, pattern)
	}
	delete(r.byID, subID)
	return true
}

// match returns active subscriptions for an event name: first all
// exact-name subscriptions, then all wildcard-pattern subscriptions, each
// group sorted by descending priority with registration order breaking ties.
func (r *registry) match(name Topic) []*Subscription {
	r.mu.RLock()

	exact := collectActive(r.subs[name])

	var wild []*Subscription
	for pattern := range r.patterns {
		if name.Matches(pattern) {
			wild = append(wild, collectActive(r.subs[pattern])...)
		}
	}
	r.mu.RUnlock()

	sortSubscriptions(exact)
	sortSubscriptions(wild)
	return append(exact, wild...)
}

// collectActive copies the active subscriptions from a slice.
func collectActive(subs []*Subscription) []*Subscription {
	if len(subs) == 0 {
		return nil
	}
	result := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		if s.IsActive() {
			result = append(result, s)
		}
	}
	return result
}

// sortSubscriptions orders by priority descending, then registration order.
func sortSubscriptions(subs []*Subscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].config.Priority != subs[j].config.Priority {
			return subs[i].config.Priority > subs[j].config.Priority
		}
		return subs[i].seq < subs[j].seq
	})
}

// count returns the number of registered subscriptions.
func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// clear removes all subscriptions.
func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[Topic][]*Subscription)
	r.byID = make(map[string]*Subscription)
	r.patterns = make(map[Topic]struct{})
}
