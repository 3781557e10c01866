package database

import (
	"fmt"
	"path/filepath"

	"smig-go/internal/config"
	"smig-go/internal/database/migrations"
	"smig-go/internal/smig"
)

// NewStoreFromConfig creates a Store implementation based on the database
// config type. The schema is migrated to the latest version before the
// store is returned.
func NewStoreFromConfig(cfg config.DatabaseConfig) (smig.Store, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		path = filepath.Join(cfg.DataDir, "smig.db")
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}

	store, err := NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(store.db); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrating database %s: %w", path, err)
	}
	return store, nil
}
