package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"smig-go/internal/smig"
)

// busyRetries is how many times a statement hitting SQLITE_BUSY or
// SQLITE_LOCKED is retried before the error is surfaced.
const busyRetries = 5

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string

	// mergeSlot serializes bulk merges. The staging table is shared, so
	// only one merge may be staging and collapsing rows at a time.
	mergeSlot chan struct{}
}

// NewSQLiteStore creates a new SQLite-backed store.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{
		db:        db,
		path:      path,
		mergeSlot: make(chan struct{}, 1),
	}, nil
}

// NewSQLiteStoreFromDB wraps an existing database connection. The caller is
// responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:        db,
		mergeSlot: make(chan struct{}, 1),
	}
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tools and tests that need a configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Foreign keys are OFF by default in SQLite for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// BulkMergeFiles persists a batch of file records. Rows are written to the
// staging table under a fresh batch ID, merged into files, and the staged
// rows deleted, all within one transaction. Merges are serialized so
// concurrent discovery and enrichment flushes cannot interleave.
//
// The merge keeps existing enrichment results when the incoming row carries
// none: a discovery flush for an already-analyzed file must not zero out its
// access and version statistics.
func (s *SQLiteStore) BulkMergeFiles(ctx context.Context, records []smig.FileRecord) error {
	if len(records) == 0 {
		return nil
	}

	select {
	case s.mergeSlot <- struct{}{}:
		defer func() { <-s.mergeSlot }()
	case <-ctx.Done():
		return ctx.Err()
	}

	batchID := uuid.New().String()
	return s.withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("starting transaction: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO staging_files
				(batch_id, url, site_url, web_url, file_path, list_title, author,
				 last_modified, size, access_count, version_count, versions_size, analyzed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing staging insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			_, err := stmt.ExecContext(ctx,
				batchID, r.URL, r.SiteURL, r.WebURL, r.FilePath, r.ListTitle, r.Author,
				r.LastModified.UTC(), r.Size, r.AccessCount, r.VersionCount, r.VersionsSize,
				nullTime(r.AnalyzedAt))
			if err != nil {
				return fmt.Errorf("staging file %s: %w", r.URL, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO files
				(url, site_url, web_url, file_path, list_title, author,
				 last_modified, size, access_count, version_count, versions_size, analyzed_at)
			SELECT url, site_url, web_url, file_path, list_title, author,
				last_modified, size, access_count, version_count, versions_size, analyzed_at
			FROM staging_files WHERE batch_id = ?
			ON CONFLICT (url) DO UPDATE SET
				site_url      = excluded.site_url,
				web_url       = excluded.web_url,
				file_path     = excluded.file_path,
				list_title    = excluded.list_title,
				author        = excluded.author,
				last_modified = excluded.last_modified,
				size          = excluded.size,
				access_count  = CASE WHEN excluded.analyzed_at IS NOT NULL THEN excluded.access_count ELSE files.access_count END,
				version_count = CASE WHEN excluded.analyzed_at IS NOT NULL THEN excluded.version_count ELSE files.version_count END,
				versions_size = CASE WHEN excluded.analyzed_at IS NOT NULL THEN excluded.versions_size ELSE files.versions_size END,
				analyzed_at   = CASE WHEN excluded.analyzed_at IS NOT NULL THEN excluded.analyzed_at ELSE files.analyzed_at END`,
			batchID)
		if err != nil {
			return fmt.Errorf("merging staged files: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM staging_files WHERE batch_id = ?", batchID); err != nil {
			return fmt.Errorf("clearing staged files: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetFileRecord(ctx context.Context, url string) (*smig.FileRecord, error) {
	var (
		r        smig.FileRecord
		analyzed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT url, site_url, web_url, file_path, list_title, author,
			last_modified, size, access_count, version_count, versions_size, analyzed_at
		FROM files WHERE url = ?`, url).Scan(
		&r.URL, &r.SiteURL, &r.WebURL, &r.FilePath, &r.ListTitle, &r.Author,
		&r.LastModified, &r.Size, &r.AccessCount, &r.VersionCount, &r.VersionsSize, &analyzed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding file record: %w", err)
	}
	if analyzed.Valid {
		r.AnalyzedAt = analyzed.Time
	}
	return &r, nil
}

// UpsertMigrationLog records a successful migration and moves the file
// record's last-modified value forward to the migrated version.
func (s *SQLiteStore) UpsertMigrationLog(ctx context.Context, entry smig.MigrationLogEntry) error {
	return s.withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("starting transaction: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO migration_log (url, last_modified, migrated_at)
			VALUES (?, ?, ?)
			ON CONFLICT (url) DO UPDATE SET
				last_modified = excluded.last_modified,
				migrated_at   = excluded.migrated_at`,
			entry.URL, entry.LastModified.UTC(), entry.MigratedAt.UTC())
		if err != nil {
			return fmt.Errorf("upserting migration log: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE files SET last_modified = ? WHERE url = ?",
			entry.LastModified.UTC(), entry.URL)
		if err != nil {
			return fmt.Errorf("updating file record: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetMigrationLog(ctx context.Context, url string) (*smig.MigrationLogEntry, error) {
	var e smig.MigrationLogEntry
	err := s.db.QueryRowContext(ctx,
		"SELECT url, last_modified, migrated_at FROM migration_log WHERE url = ?", url).
		Scan(&e.URL, &e.LastModified, &e.MigratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding migration log entry: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) UpsertMigrationError(ctx context.Context, entry smig.MigrationErrorLogEntry) error {
	return s.withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO migration_errors (url, error, occurred_at)
			VALUES (?, ?, ?)
			ON CONFLICT (url) DO UPDATE SET
				error       = excluded.error,
				occurred_at = excluded.occurred_at`,
			entry.URL, entry.Error, entry.OccurredAt.UTC())
		if err != nil {
			return fmt.Errorf("upserting migration error: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetMigrationError(ctx context.Context, url string) (*smig.MigrationErrorLogEntry, error) {
	var e smig.MigrationErrorLogEntry
	err := s.db.QueryRowContext(ctx,
		"SELECT url, error, occurred_at FROM migration_errors WHERE url = ?", url).
		Scan(&e.URL, &e.Error, &e.OccurredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding migration error entry: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) Counts(ctx context.Context) (smig.StoreCounts, error) {
	var c smig.StoreCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM files),
			(SELECT COUNT(*) FROM migration_log),
			(SELECT COUNT(*) FROM migration_errors)`).
		Scan(&c.Files, &c.Migrated, &c.Errors)
	if err != nil {
		return smig.StoreCounts{}, fmt.Errorf("counting store contents: %w", err)
	}
	return c, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// withRetry retries fn when SQLite reports the database busy or locked.
// Other errors are returned immediately.
func (s *SQLiteStore) withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	return err
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Compile-time check that SQLiteStore implements the Store interface.
var _ smig.Store = (*SQLiteStore)(nil)
