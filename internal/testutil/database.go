package testutil

import (
	"testing"

	"pindash/internal/database"
)

// NewTestDatabase creates a migrated in-memory SQLite database stamped by
// clock (nil for FixedClock). It is closed when the test completes.
func NewTestDatabase(t *testing.T, clock *StubClock) *database.SQLiteDatabase {
	t.Helper()

	if clock == nil {
		clock = FixedClock()
	}

	db, err := database.NewSQLiteDatabase(":memory:", clock)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
