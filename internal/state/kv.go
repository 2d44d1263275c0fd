package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// KV is the narrow interface to the external flat key-value collaborator
// used by Persist and Restore. The store never assumes anything about the
// medium behind it.
type KV interface {
	// Read returns the bytes stored under key, or ErrKeyNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write stores bytes under key, replacing any previous value.
	Write(ctx context.Context, key string, data []byte) error
}

// MemKV is an in-memory KV, primarily for tests.
type MemKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemKV creates an empty in-memory key-value store.
func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

// Read implements KV.
func (m *MemKV) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write implements KV.
func (m *MemKV) Write(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.data[key] = stored
	return nil
}

// FileKV stores each key as a file under a base directory.
type FileKV struct {
	dir string
}

// NewFileKV creates a file-backed KV rooted at dir, creating it if needed.
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileKV{dir: dir}, nil
}

// Read implements KV.
func (f *FileKV) Read(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrKeyNotFound
	}
	return data, err
}

// Write implements KV.
func (f *FileKV) Write(_ context.Context, key string, data []byte) error {
	tmp := f.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path(key))
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}
