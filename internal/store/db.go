package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the in-memory SQLite database holding one session's state.
type DB struct {
	*sql.DB
	name string
}

// OpenMemory creates a private in-memory database. Every call gets its own
// named database so concurrent sessions in one process never share rows.
func OpenMemory() (*DB, error) {
	name := "chatsync-" + uuid.NewString()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on&_busy_timeout=5000", name)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// The database lives as long as one connection stays open; a single
	// connection also serializes every write.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, name: name}, nil
}

// Name returns the in-memory database name.
func (db *DB) Name() string {
	return db.name
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
