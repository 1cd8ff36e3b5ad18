package database

import (
	"fmt"
	"os"
	"path/filepath"

	"kisync/internal/config"
	"kisync/internal/database/migrations"
	"kisync/internal/kis"
)

// NewCatalogFromConfig creates a Catalog implementation based on the
// database config type. The schema is migrated to the latest version
// before the catalog is returned.
func NewCatalogFromConfig(cfg config.DatabaseConfig) (kis.Catalog, error) {
	switch cfg.Type {
	case "memory":
		return newCatalog(":memory:")
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("sqlite database requires data_dir to be set")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return newCatalog(filepath.Join(cfg.DataDir, "catalog.db"))
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

func newCatalog(path string) (*SQLiteCatalog, error) {
	catalog, err := NewSQLiteCatalog(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(catalog.DB()); err != nil {
		catalog.Close()
		return nil, fmt.Errorf("migrating catalog schema: %w", err)
	}

	return catalog, nil
}
