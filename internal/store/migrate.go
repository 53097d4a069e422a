package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/chatsync/internal/store/migrations"
)

// Open creates a session database with the embedded schema applied.
func Open() (*DB, error) {
	db, err := OpenMemory()
	if err != nil {
		return nil, err
	}
	if _, _, err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate brings the schema up to date. It reports the resulting version
// and whether any migration ran; a dirty schema is an error.
func (db *DB) Migrate() (version uint, changed bool, err error) {
	m, err := db.migrator()
	if err != nil {
		return 0, false, err
	}

	switch err := m.Up(); {
	case err == nil:
		changed = true
	case !errors.Is(err, migrate.ErrNoChange):
		return 0, false, fmt.Errorf("migrate up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, false, fmt.Errorf("schema version: %w", err)
	}
	if dirty {
		return version, changed, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, changed, nil
}

func (db *DB) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	// The driver must reuse the single pooled connection: a second one
	// would see a different in-memory database.
	drv, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "sqlite3", drv)
}
