package smig

import (
	"context"
	"time"
)

// FileRecord is the persisted form of a discovered file, keyed by its full
// URL (the natural key; records are referenced by URL, never by pointer).
type FileRecord struct {
	URL          string
	SiteURL      string
	WebURL       string
	FilePath     string
	ListTitle    string
	Author       string
	LastModified time.Time
	Size         int64

	// Enrichment results; zero until analysis completes.
	AccessCount  int64
	VersionCount int64
	VersionsSize int64
	AnalyzedAt   time.Time
}

// MigrationLogEntry records the version at which a file was last copied to
// blob storage. One entry per file record, upserted.
type MigrationLogEntry struct {
	URL          string
	LastModified time.Time // source modification time at migration
	MigratedAt   time.Time
}

// MigrationErrorLogEntry records a failed migration attempt. Diagnostic
// only; never consulted for control flow.
type MigrationErrorLogEntry struct {
	URL        string
	Error      string
	OccurredAt time.Time
}

// StoreCounts summarizes store contents for status reporting.
type StoreCounts struct {
	Files    int64
	Migrated int64
	Errors   int64
}

// Store provides the relational persistence operations the core needs.
// Implementations must make every upsert idempotent per URL.
type Store interface {
	// BulkMergeFiles persists a batch of discovered or updated file records
	// using the staging-then-merge strategy: staged rows tagged with a fresh
	// batch ID, then merged into permanent storage and cleared, all in one
	// transaction. Calls are serialized internally.
	BulkMergeFiles(ctx context.Context, records []FileRecord) error

	// GetFileRecord returns the record for a URL, or nil if absent.
	GetFileRecord(ctx context.Context, url string) (*FileRecord, error)

	// UpsertMigrationLog writes the success log entry for a file and updates
	// the file record's last-modified value.
	UpsertMigrationLog(ctx context.Context, entry MigrationLogEntry) error

	// GetMigrationLog returns the migration log entry for a URL, or nil.
	GetMigrationLog(ctx context.Context, url string) (*MigrationLogEntry, error)

	// UpsertMigrationError writes the failure log entry for a file.
	UpsertMigrationError(ctx context.Context, entry MigrationErrorLogEntry) error

	// GetMigrationError returns the error log entry for a URL, or nil.
	GetMigrationError(ctx context.Context, url string) (*MigrationErrorLogEntry, error)

	// Counts returns store totals for status reporting.
	Counts(ctx context.Context) (StoreCounts, error)

	// Close closes the underlying connection.
	Close() error
}
