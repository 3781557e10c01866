package blob

import (
	"context"
	"fmt"

	"smig-go/internal/config"
	"smig-go/internal/smig"
)

// NewBlobStoreFromConfig creates a BlobStore implementation based on the
// blob config type.
func NewBlobStoreFromConfig(ctx context.Context, cfg config.BlobConfig) (smig.BlobStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryBlobStore(), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 blob store requires s3_bucket to be set")
		}
		return NewS3BlobStore(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem blob store requires fs_root to be set")
		}
		return NewFileSystemBlobStore(cfg.FSRoot)
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}
}
