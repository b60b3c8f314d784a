package localstore

import (
	"context"
	"database/sql"
	"testing"
)

// NewTestDB opens a fresh in-memory SQLite database without any schema.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewTestStore creates an in-memory store migrated to TargetVersion.
func NewTestStore(t *testing.T) *Store {
	t.Helper()

	db := NewTestDB(t)
	m := NewMigrator(db, nil)
	if _, err := m.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return New(db, m)
}
