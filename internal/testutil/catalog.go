package testutil

import (
	"testing"

	"kisync/internal/database"
	"kisync/internal/database/migrations"
)

// NewTestCatalog creates a new in-memory SQLite catalog with the schema
// migrated to the latest version. The catalog is automatically closed
// when the test completes.
func NewTestCatalog(t *testing.T) *database.SQLiteCatalog {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := migrations.MigrateUp(sqlDB); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to migrate schema: %v", err)
	}

	catalog := database.NewSQLiteCatalogFromDB(sqlDB)

	t.Cleanup(func() {
		catalog.Close()
	})

	return catalog
}
