package blob

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSystemBlobStore is a filesystem-based implementation of the BlobStore
// interface. Blobs live under <root> at their blob path; each blob's MD5 is
// stored alongside it in a ".md5" sidecar so hash lookups avoid re-reading
// large files.
type FileSystemBlobStore struct {
	root string
}

// NewFileSystemBlobStore creates a blob store rooted at the given path.
func NewFileSystemBlobStore(root string) (*FileSystemBlobStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FileSystemBlobStore{root: root}, nil
}

func (s *FileSystemBlobStore) blobPath(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

func (s *FileSystemBlobStore) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(s.blobPath(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stating blob %s: %w", path, err)
}

func (s *FileSystemBlobStore) ContentHash(_ context.Context, path string) ([]byte, error) {
	sum, err := os.ReadFile(s.blobPath(path) + ".md5")
	if err == nil {
		return sum, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading blob hash %s: %w", path, err)
	}

	// No sidecar (blob written by other tooling): hash the content.
	f, err := os.Open(s.blobPath(path))
	if err != nil {
		return nil, fmt.Errorf("blob not found: %s", path)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hashing blob %s: %w", path, err)
	}
	return h.Sum(nil), nil
}

func (s *FileSystemBlobStore) Upload(_ context.Context, path string, r io.Reader, size int64, contentMD5 []byte) error {
	dest := s.blobPath(path)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating blob directory: %w", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating blob %s: %w", path, err)
	}

	h := md5.New()
	written, err := io.Copy(io.MultiWriter(f, h), r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("writing blob %s: %w", path, err)
	}
	if written != size {
		os.Remove(dest)
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	sum := h.Sum(nil)
	if contentMD5 != nil && !bytes.Equal(sum, contentMD5) {
		os.Remove(dest)
		return fmt.Errorf("content digest mismatch for %s", path)
	}

	if err := os.WriteFile(dest+".md5", sum, 0644); err != nil {
		return fmt.Errorf("writing blob hash %s: %w", path, err)
	}
	return nil
}
