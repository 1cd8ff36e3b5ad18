// Package migrations embeds the catalog schema and applies it with
// golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var schemaFS embed.FS

// MigrateUp brings the catalog schema up to the current version. Already
// current databases are left untouched. The *sql.DB stays open afterwards;
// the caller still owns it.
func MigrateUp(db *sql.DB) error {
	src, err := iofs.New(schemaFS, "files")
	if err != nil {
		return fmt.Errorf("opening embedded schema: %w", err)
	}

	drv, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return fmt.Errorf("preparing sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		src.Close()
		return fmt.Errorf("preparing migrations: %w", err)
	}
	// m.Close would also close db, so skip it and leave the connection to
	// the caller.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
