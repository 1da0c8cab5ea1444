// Package testing holds shared test fixtures.
package testing

import (
	"database/sql"
	"testing"

	phidb "github.com/phiacta/phiacta/db"
)

// CreateTestDB creates a fully migrated in-memory SQLite database,
// with the vector extension registered and foreign keys on.
// Cleanup is registered via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Importing phidb registers sqlite-vec with the sqlite3 driver.
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	// Every new :memory: connection is a distinct empty database, and
	// PRAGMA foreign_keys only applies to the connection that ran it.
	// Pin the pool to one connection so concurrent tests see one schema.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	if err := phidb.Migrate(db, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
