package smig

import (
	"context"
	"io"
)

// BlobStore provides an interface for the migration destination.
// All operations use io.Reader for streaming to support large files without
// loading them entirely into memory. Content hashes are MD5 digests of the
// blob bytes, matching what object stores report natively.
type BlobStore interface {
	// Exists reports whether a blob is present at the given path.
	Exists(ctx context.Context, path string) (bool, error)

	// ContentHash returns the stored MD5 digest of the blob at path.
	// Returns an error if the blob does not exist.
	ContentHash(ctx context.Context, path string) ([]byte, error)

	// Upload stores the blob at path, overwriting any existing blob.
	// size is the number of bytes that will be read from r. contentMD5 is
	// the digest of those bytes, recorded with the blob for later
	// ContentHash lookups; implementations may verify it.
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentMD5 []byte) error
}
