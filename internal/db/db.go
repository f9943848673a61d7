// Package db owns the sqlite handle and schema migrations for the
// tracking engine's persistence layer.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the sqlite database at path. The schema
// is managed by embedded migrations; call MigrateUp after opening.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// modernc sqlite serializes writes per connection; a single connection
	// avoids SQLITE_BUSY between the pipeline writer and HTTP readers.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &DB{sqlDB}, nil
}
