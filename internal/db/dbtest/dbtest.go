// Package dbtest opens throwaway migrated databases for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/templui/storeauth/internal/db"
)

// New returns a migrated SQLite database stored under t.TempDir.
// The database is closed when the test finishes.
func New(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"

	ctx := context.Background()
	database, err := db.Init(ctx, "sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.RunMigrations(ctx, database.DB, "sqlite"); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return database
}
