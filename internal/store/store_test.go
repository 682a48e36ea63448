package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fold/internal/value"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"records", "pointers", "schema_migrations"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.AppendRecord(ctx, createTestRecord("r1", bioKey, value.String("kept"), ""))
	require.NoError(t, err)
	require.NoError(t, s1.SwapPointer(ctx, bioKey, "", "r1", testTime))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	p, err := s2.GetPointer(ctx, bioKey)
	require.NoError(t, err)
	require.NotNil(t, p)
	rec, err := s2.GetRecord(ctx, p.CurrentRecordID)
	require.NoError(t, err)
	assert.Equal(t, value.String("kept"), rec.Content)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	assert.Error(t, err)
}

func TestClose_NilDB(t *testing.T) {
	s := &DB{db: nil}
	assert.NoError(t, s.Close())
}

func TestPragmas(t *testing.T) {
	s := createTestDB(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, s.verifyPragma(tt.name, tt.expected))
		})
	}
}

func TestSchema_Columns(t *testing.T) {
	s := createTestDB(t)

	expected := map[string][]string{
		"records": {
			"id", "schema_name", "field_name", "entity", "content",
			"content_digest", "deleted", "source_key", "created_at", "prev_id",
		},
		"pointers": {
			"id", "schema_name", "field_name", "entity", "current_record_id", "updated_at",
		},
	}
	for table, cols := range expected {
		got := getTableColumns(t, s.db, table)
		for _, col := range cols {
			assert.Contains(t, got, col, "%s table missing column", table)
		}
	}
}

func TestSchema_ForeignKeyBlocksDanglingPointer(t *testing.T) {
	s := createTestDB(t)

	_, err := s.db.Exec(`
		INSERT INTO pointers (id, schema_name, field_name, entity, current_record_id, updated_at)
		VALUES ('p', 'S', 'f', 'e', 'missing', 0)
	`)
	assert.Error(t, err, "foreign key should reject a pointer to a missing record")
}

func TestStoredContentIsCanonical(t *testing.T) {
	s := createTestDB(t)
	ctx := context.Background()

	_, err := s.AppendRecord(ctx, createTestRecord("r1", bioKey, value.Object{"b": value.Int(2), "a": value.Int(1)}, ""))
	require.NoError(t, err)

	var content string
	require.NoError(t, s.db.QueryRow(`SELECT content FROM records WHERE id = 'r1'`).Scan(&content))
	assert.Equal(t, `{"a":1,"b":2}`, content)
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	require.NoError(t, err)
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		cols = append(cols, name)
	}
	require.NoError(t, rows.Err())
	return cols
}
