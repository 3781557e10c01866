package smig

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Uploader copies one file's bytes from the content source into blob
// storage. Content is staged on local disk first so large files are streamed
// end to end, and uploads are skipped when the destination already holds
// identical bytes (by MD5), which keeps re-processing idempotent.
type Uploader struct {
	source   ContentSource
	blobs    BlobStore
	logger   Logger
	tempRoot string
	idgen    IDGenerator
}

func NewUploader(source ContentSource, blobs BlobStore, logger Logger, tempRoot string, idgen IDGenerator) *Uploader {
	return &Uploader{
		source:   source,
		blobs:    blobs,
		logger:   logger,
		tempRoot: tempRoot,
		idgen:    idgen,
	}
}

// Upload downloads fd's content and uploads it to the blob store. The
// per-call staging directory is removed afterwards whether or not the upload
// succeeded; a failed removal is logged and swallowed. Errors carry the file
// path so the caller can decide on message-level retry.
func (u *Uploader) Upload(ctx context.Context, fd *FileDescriptor) error {
	blobPath := BlobPath(fd)

	stageDir := filepath.Join(u.tempRoot, u.idgen.New())
	defer func() {
		if rmErr := os.RemoveAll(stageDir); rmErr != nil {
			u.logger.Warn("removing staging directory failed", "path", stageDir, "error", rmErr)
		}
	}()

	localPath := filepath.Join(stageDir, sanitizePath(blobPath))
	digest, err := u.download(ctx, fd, localPath)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", fd.FilePath, err)
	}

	exists, err := u.blobs.Exists(ctx, blobPath)
	if err != nil {
		return fmt.Errorf("checking blob %s: %w", blobPath, err)
	}
	if exists {
		stored, err := u.blobs.ContentHash(ctx, blobPath)
		if err != nil {
			return fmt.Errorf("reading blob hash %s: %w", blobPath, err)
		}
		if bytes.Equal(stored, digest) {
			u.logger.Info("blob content unchanged, skipping upload", "path", blobPath)
			return nil
		}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening staged file %s: %w", fd.FilePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stating staged file %s: %w", fd.FilePath, err)
	}

	if err := u.blobs.Upload(ctx, blobPath, f, info.Size(), digest); err != nil {
		return fmt.Errorf("uploading %s: %w", fd.FilePath, err)
	}

	u.logger.Info("blob uploaded", "path", blobPath, "size", info.Size())
	return nil
}

// download streams the remote file to localPath and computes its MD5 digest
// as the bytes pass through.
func (u *Uploader) download(ctx context.Context, fd *FileDescriptor, localPath string) ([]byte, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}

	body, err := u.source.Download(ctx, fd.FullURL())
	if err != nil {
		return nil, err
	}
	defer body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}

	h := md5.New()
	_, err = io.Copy(io.MultiWriter(f, h), body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("staging content: %w", err)
	}

	return h.Sum(nil), nil
}

// sanitizePath makes a blob path safe to use as a relative filesystem path.
func sanitizePath(p string) string {
	p = strings.ReplaceAll(p, "..", "_")
	p = strings.ReplaceAll(p, ":", "_")
	return filepath.FromSlash(strings.TrimPrefix(p, "/"))
}
