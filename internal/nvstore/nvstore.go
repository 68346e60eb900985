// Package nvstore is a small non-volatile item store addressed by
// one-byte item ids, in the manner of a radio SoC's NV flash area.
package nvstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned by Read when the item has never been written
// or is shorter than requested.
var ErrNotFound = errors.New("nvstore: item not found")

// Store reads and writes fixed-size items.
type Store interface {
	// Read returns exactly n bytes of item id.
	Read(id uint8, n int) ([]byte, error)
	// Write replaces item id with b.
	Write(id uint8, b []byte) error
}

// FileStore keeps each item in its own file under a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the directory if needed and returns a store on it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("nvstore: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id uint8) string {
	return filepath.Join(s.dir, fmt.Sprintf("item-%02x.bin", id))
}

func (s *FileStore) Read(id uint8, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("nvstore: read item 0x%02x: %w", id, err)
	}
	if len(b) < n {
		return nil, fmt.Errorf("nvstore: item 0x%02x is %d bytes, want %d: %w", id, len(b), n, ErrNotFound)
	}
	return b[:n], nil
}

// Write stores b through a temp file and rename so a crash never leaves
// a truncated item.
func (s *FileStore) Write(id uint8, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, fmt.Sprintf("item-%02x-*.tmp", id))
	if err != nil {
		return fmt.Errorf("nvstore: write item 0x%02x: %w", id, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("nvstore: write item 0x%02x: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("nvstore: write item 0x%02x: %w", id, err)
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("nvstore: commit item 0x%02x: %w", id, err)
	}
	slog.Debug("[NV] item written", "id", fmt.Sprintf("0x%02x", id), "len", len(b))
	return nil
}

// MemStore is an in-memory Store.
type MemStore struct {
	mu    sync.Mutex
	items map[uint8][]byte
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{items: make(map[uint8][]byte)}
}

func (s *MemStore) Read(id uint8, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if len(b) < n {
		return nil, fmt.Errorf("nvstore: item 0x%02x is %d bytes, want %d: %w", id, len(b), n, ErrNotFound)
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (s *MemStore) Write(id uint8, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = append([]byte(nil), b...)
	return nil
}
