package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Persist serializes the full tree and writes it to the key-value
// collaborator under key.
func (s *Store) Persist(ctx context.Context, key string) error {
	if s.store == nil {
		return errors.New("no key-value store configured")
	}

	doc := []byte("{}")
	var err error
	for path, val := range s.Flatten() {
		doc, err = sjson.SetBytes(doc, path, val)
		if err != nil {
			return fmt.Errorf("serialize %q: %w", path, err)
		}
	}

	if err := s.store.Write(ctx, key, doc); err != nil {
		return fmt.Errorf("persist %q: %w", key, err)
	}
	return nil
}

// Restore replaces the tree with the snapshot stored under key. The load is
// retried with exponential backoff for transient collaborator failures; a
// missing key is permanent. The swap is announced like any other commit.
//
// The snapshot passes through JSON, so numeric leaves come back as float64
// regardless of the type that was stored. A later Set of the original int
// therefore diffs as a change.
func (s *Store) Restore(ctx context.Context, key string) error {
	if s.store == nil {
		return errors.New("no key-value store configured")
	}

	var data []byte
	read := func() error {
		var err error
		data, err = s.store.Read(ctx, key)
		if errors.Is(err, ErrKeyNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(read, policy); err != nil {
		return fmt.Errorf("restore %q: %w", key, err)
	}

	parsed := gjson.ParseBytes(data)
	tree, ok := parsed.Value().(map[string]any)
	if !ok {
		return fmt.Errorf("restore %q: snapshot is not an object", key)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	previous := s.tree
	s.tree = tree
	updates := diffLeaves(previous, s.tree)
	var (
		current  map[string]any
		watchers []watcherHit
	)
	if len(updates) > 0 {
		s.snapshots.push(cloneTree(previous))
		current = cloneTree(s.tree)
		watchers = s.matchWatchers(updates, current)
	}
	s.mu.Unlock()

	if len(updates) > 0 {
		s.announce(ctx, previous, current, updates, watchers)
	}
	return nil
}
