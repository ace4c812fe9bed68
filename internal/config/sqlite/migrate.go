package sqlite

import (
	"database/sql"
	"fmt"
)

// runMigrations creates the settings table if it doesn't already exist.
// There is only one table: the whole Config lives as a JSON blob keyed
// by "config", so there is no versioned migration ladder to maintain.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create settings table: %w", err)
	}
	return nil
}
