package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/fold/internal/value"
)

// createTestDB creates a new SQLite store in a temp dir for testing.
func createTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// createTestRecord creates a record with minimal required fields.
func createTestRecord(id string, key PointerKey, content value.Value, prevID string) Record {
	return Record{
		ID:        id,
		Schema:    key.Schema,
		Field:     key.Field,
		Entity:    key.Entity,
		Content:   content,
		SourceKey: "pk-test",
		CreatedAt: testTime,
		PrevID:    prevID,
	}
}
