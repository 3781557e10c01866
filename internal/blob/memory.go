package blob

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"sync"
)

// MemoryBlobStore is an in-memory implementation of the BlobStore
// interface, useful for testing. Safe for concurrent use.
type MemoryBlobStore struct {
	mu      sync.RWMutex
	content map[string][]byte // path -> content
}

// NewMemoryBlobStore creates a new in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{content: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Exists(_ context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.content[path]
	return ok, nil
}

func (m *MemoryBlobStore) ContentHash(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.content[path]
	if !ok {
		return nil, fmt.Errorf("blob not found: %s", path)
	}
	sum := md5.Sum(data)
	return sum[:], nil
}

func (m *MemoryBlobStore) Upload(_ context.Context, path string, r io.Reader, size int64, contentMD5 []byte) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	if contentMD5 != nil {
		sum := md5.Sum(data)
		if !bytes.Equal(sum[:], contentMD5) {
			return fmt.Errorf("content digest mismatch for %s", path)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[path] = data
	return nil
}

// Get returns the stored bytes for a path. Test helper.
func (m *MemoryBlobStore) Get(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.content[path]
	return data, ok
}
