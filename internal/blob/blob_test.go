package blob_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"os"
	"path/filepath"
	"testing"

	"smig-go/internal/blob"
	"smig-go/internal/config"
	"smig-go/internal/smig"
)

func newStores(t *testing.T) map[string]smig.BlobStore {
	t.Helper()
	fs, err := blob.NewFileSystemBlobStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return map[string]smig.BlobStore{
		"memory":     blob.NewMemoryBlobStore(),
		"filesystem": fs,
	}
}

func TestBlobStore_UploadAndExists(t *testing.T) {
	ctx := context.Background()
	content := []byte("document body")
	sum := md5.Sum(content)

	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			path := "sites/eng/Shared Documents/report.docx"

			exists, err := store.Exists(ctx, path)
			if err != nil {
				t.Fatal(err)
			}
			if exists {
				t.Error("Exists() = true before upload")
			}

			if err := store.Upload(ctx, path, bytes.NewReader(content), int64(len(content)), sum[:]); err != nil {
				t.Fatalf("Upload() error = %v", err)
			}

			exists, err = store.Exists(ctx, path)
			if err != nil {
				t.Fatal(err)
			}
			if !exists {
				t.Error("Exists() = false after upload")
			}

			got, err := store.ContentHash(ctx, path)
			if err != nil {
				t.Fatalf("ContentHash() error = %v", err)
			}
			if !bytes.Equal(got, sum[:]) {
				t.Errorf("ContentHash() = %x, want %x", got, sum)
			}
		})
	}
}

func TestBlobStore_UploadRejectsSizeMismatch(t *testing.T) {
	ctx := context.Background()
	content := []byte("short")

	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Upload(ctx, "p/file.txt", bytes.NewReader(content), 999, nil)
			if err == nil {
				t.Fatal("Upload() should reject a size mismatch")
			}
			exists, _ := store.Exists(ctx, "p/file.txt")
			if exists {
				t.Error("mismatched upload left a blob behind")
			}
		})
	}
}

func TestBlobStore_UploadRejectsDigestMismatch(t *testing.T) {
	ctx := context.Background()
	content := []byte("actual bytes")
	wrong := md5.Sum([]byte("expected bytes"))

	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Upload(ctx, "p/file.txt", bytes.NewReader(content), int64(len(content)), wrong[:])
			if err == nil {
				t.Fatal("Upload() should reject a digest mismatch")
			}
			exists, _ := store.Exists(ctx, "p/file.txt")
			if exists {
				t.Error("corrupt upload left a blob behind")
			}
		})
	}
}

func TestBlobStore_ContentHashMissingBlob(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.ContentHash(ctx, "nope/missing.txt"); err == nil {
				t.Error("ContentHash() should fail for a missing blob")
			}
		})
	}
}

func TestFileSystemBlobStore_Sidecar(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := blob.NewFileSystemBlobStore(root)
	if err != nil {
		t.Fatal(err)
	}

	content := []byte("with sidecar")
	sum := md5.Sum(content)
	if err := store.Upload(ctx, "a/b.txt", bytes.NewReader(content), int64(len(content)), nil); err != nil {
		t.Fatal(err)
	}

	sidecar, err := os.ReadFile(filepath.Join(root, "a", "b.txt.md5"))
	if err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	if !bytes.Equal(sidecar, sum[:]) {
		t.Errorf("sidecar = %x, want %x", sidecar, sum)
	}
}

func TestFileSystemBlobStore_HashesForeignBlob(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := blob.NewFileSystemBlobStore(root)
	if err != nil {
		t.Fatal(err)
	}

	// A blob dropped in place by other tooling, with no sidecar.
	content := []byte("pre-existing")
	if err := os.WriteFile(filepath.Join(root, "legacy.txt"), content, 0644); err != nil {
		t.Fatal(err)
	}

	sum := md5.Sum(content)
	got, err := store.ContentHash(ctx, "legacy.txt")
	if err != nil {
		t.Fatalf("ContentHash() error = %v", err)
	}
	if !bytes.Equal(got, sum[:]) {
		t.Errorf("ContentHash() = %x, want %x", got, sum)
	}
}

func TestNewBlobStoreFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, err := blob.NewBlobStoreFromConfig(ctx, config.BlobConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		if _, ok := store.(*blob.MemoryBlobStore); !ok {
			t.Errorf("store type = %T, want MemoryBlobStore", store)
		}
	})

	t.Run("filesystem", func(t *testing.T) {
		store, err := blob.NewBlobStoreFromConfig(ctx, config.BlobConfig{Type: "filesystem", FSRoot: t.TempDir()})
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		if _, ok := store.(*blob.FileSystemBlobStore); !ok {
			t.Errorf("store type = %T, want FileSystemBlobStore", store)
		}
	})

	t.Run("filesystem requires root", func(t *testing.T) {
		if _, err := blob.NewBlobStoreFromConfig(ctx, config.BlobConfig{Type: "filesystem"}); err == nil {
			t.Error("missing fs_root should be an error")
		}
	})

	t.Run("s3 requires bucket", func(t *testing.T) {
		if _, err := blob.NewBlobStoreFromConfig(ctx, config.BlobConfig{Type: "s3"}); err == nil {
			t.Error("missing s3_bucket should be an error")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := blob.NewBlobStoreFromConfig(ctx, config.BlobConfig{Type: "carrier-pigeon"}); err == nil {
			t.Error("unknown type should be an error")
		}
	})
}
