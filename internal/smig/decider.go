package smig

import (
	"context"
	"fmt"
)

// SyncDecider decides whether a discovered file must be migrated, by
// comparing blob existence and the migration log. The check never downloads
// content, is idempotent, and is safe to re-run at any time.
type SyncDecider struct {
	blobs BlobStore
	store Store
}

func NewSyncDecider(blobs BlobStore, store Store) *SyncDecider {
	return &SyncDecider{blobs: blobs, store: store}
}

// NeedsMigration reports whether fd is stale relative to blob storage.
// A file is up to date only when a blob exists at its path AND a migration
// log entry records the same last-modified timestamp; any mismatch means the
// file needs migrating.
func (d *SyncDecider) NeedsMigration(ctx context.Context, fd *FileDescriptor) (bool, error) {
	exists, err := d.blobs.Exists(ctx, BlobPath(fd))
	if err != nil {
		return false, fmt.Errorf("checking blob for %s: %w", fd.FilePath, err)
	}
	if !exists {
		return true, nil
	}

	entry, err := d.store.GetMigrationLog(ctx, fd.FullURL())
	if err != nil {
		return false, fmt.Errorf("reading migration log for %s: %w", fd.FilePath, err)
	}
	if entry == nil {
		return true, nil
	}

	return !entry.LastModified.Equal(fd.LastModified), nil
}

// BlobPath is the destination path of a file in blob storage: its
// server-relative path with the leading separator removed.
func BlobPath(fd *FileDescriptor) string {
	p := fd.FilePath
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return p
}
