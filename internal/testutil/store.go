package testutil

import (
	"testing"

	"smig-go/internal/database"
	"smig-go/internal/database/migrations"
	"smig-go/internal/smig"
)

// NewTestStore creates a new in-memory SQLite store with schema applied.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) smig.Store {
	t.Helper()

	db, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	store := database.NewSQLiteStoreFromDB(db)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
