// Package migrations applies the embedded journal schema with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// ErrNoVersion is returned by CheckStatus for a database that was never migrated.
var ErrNoVersion = errors.New("journal has no schema version (needs migration)")

// CheckStatus returns nil when the schema is at the latest embedded version.
func CheckStatus(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	// m is not closed: that would close db, which the caller owns.

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return ErrNoVersion
		}
		return fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("journal schema is dirty at version %d (a migration failed)", version)
	}

	latest, err := LatestVersion()
	if err != nil {
		return err
	}
	switch {
	case version < latest:
		return fmt.Errorf("journal schema is at version %d, latest is %d", version, latest)
	case version > latest:
		return fmt.Errorf("journal schema version %d is newer than this binary (%d)", version, latest)
	}
	return nil
}

// MigrateUp applies every pending migration. An up-to-date schema is not an error.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating journal schema: %w", err)
	}
	return nil
}

// LatestVersion returns the highest embedded migration version.
func LatestVersion() (uint, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("reading migration files: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("reading migration files: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}

func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			// Next fails once there are no more migrations.
			return v, nil
		}
		v = next
	}
}
