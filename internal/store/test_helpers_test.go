package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var testNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// createTestStore opens a fresh SQLite store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), path, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createPostgresStore opens the database named by WOFI_TEST_DATABASE_URL,
// skipping the test when it is unset.
func createPostgresStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("WOFI_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("WOFI_TEST_DATABASE_URL not set")
	}
	s, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testObject(id, wofiType, status string) RawObject {
	return RawObject{
		ContentID:     id,
		WofiType:      wofiType,
		SchemaVersion: "1.0",
		CanonicalJSON: `{"type":"` + wofiType + `"}`,
		CreatedAt:     "2024-01-01T00:00:00.000Z",
		Status:        status,
	}
}
