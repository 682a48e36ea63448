package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/fold/internal/store/migrations"
)

// Ensure DB implements the Backend interface.
var _ Backend = (*DB)(nil)

// DB is the SQLite-backed record store.
// Uses WAL mode for concurrent read access.
type DB struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// Pragmas are per-connection, which a single pooled connection keeps stable.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (s *DB) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// runMigrations applies the embedded migrations. The migrator is not closed
// because closing its database driver would close db.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to initialise migrate driver: %w", err)
	}

	source, err := iofs.New(migrations.Files, ".")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	defer func() {
		_ = source.Close()
	}()

	migrator, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// AppendRecord inserts an immutable record. A duplicate id is rejected rather
// than ignored: ids are never reused.
func (s *DB) AppendRecord(ctx context.Context, rec Record) (string, error) {
	if rec.ID == "" {
		return "", fmt.Errorf("append record: empty id")
	}

	content, digest, err := encodeContent(rec.Content)
	if err != nil {
		return "", fmt.Errorf("append record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageErr("append record: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	if rec.PrevID != "" {
		ok, err := recordExists(ctx, tx, rec.PrevID)
		if err != nil {
			return "", storageErr("append record: check prev", err)
		}
		if !ok {
			return "", fmt.Errorf("append record %s: prev %s: %w", rec.ID, rec.PrevID, ErrNotFound)
		}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO records
		(id, schema_name, field_name, entity, content, content_digest, deleted, source_key, created_at, prev_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.Schema,
		rec.Field,
		rec.Entity,
		content,
		digest,
		rec.Deleted,
		rec.SourceKey,
		rec.CreatedAt.UnixNano(),
		nullString(rec.PrevID),
	)
	if err != nil {
		return "", storageErr("append record: insert", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", storageErr("append record: rows affected", err)
	}
	if rowsAffected == 0 {
		return "", fmt.Errorf("append record %s: %w", rec.ID, ErrDuplicateRecord)
	}

	if err := tx.Commit(); err != nil {
		return "", storageErr("append record: commit", err)
	}
	return rec.ID, nil
}

// GetRecord retrieves a single record by id.
func (s *DB) GetRecord(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, schema_name, field_name, entity, content, content_digest, deleted, source_key, created_at, prev_id
		FROM records
		WHERE id = ?
	`, id)

	var rec Record
	var content string
	var createdAt int64
	var prevID sql.NullString
	err := row.Scan(
		&rec.ID, &rec.Schema, &rec.Field, &rec.Entity, &content, &rec.ContentDigest,
		&rec.Deleted, &rec.SourceKey, &createdAt, &prevID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("get record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, storageErr("get record", err)
	}

	rec.Content, err = decodeContent(content)
	if err != nil {
		return Record{}, storageErr("get record", err)
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.PrevID = prevID.String
	return rec, nil
}

// GetPointer returns the pointer for key, or nil if the chain was never written.
func (s *DB) GetPointer(ctx context.Context, key PointerKey) (*Pointer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, current_record_id, updated_at
		FROM pointers
		WHERE schema_name = ? AND field_name = ? AND entity = ?
	`, key.Schema, key.Field, key.Entity)

	p := Pointer{Key: key}
	var updatedAt int64
	err := row.Scan(&p.ID, &p.CurrentRecordID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get pointer", err)
	}
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &p, nil
}

// SwapPointer moves the pointer for key from expected to next in a single
// transaction. The conditional INSERT/UPDATE is the compare-and-swap: zero
// affected rows means another writer got there first.
func (s *DB) SwapPointer(ctx context.Context, key PointerKey, expected, next string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("swap pointer: begin tx", err)
	}
	defer tx.Rollback()

	ok, err := recordExists(ctx, tx, next)
	if err != nil {
		return storageErr("swap pointer: check record", err)
	}
	if !ok {
		return fmt.Errorf("swap pointer %s: record %s: %w", key, next, ErrNotFound)
	}

	var result sql.Result
	if expected == "" {
		result, err = tx.ExecContext(ctx, `
			INSERT INTO pointers
			(id, schema_name, field_name, entity, current_record_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, key.ID(), key.Schema, key.Field, key.Entity, next, at.UnixNano())
	} else {
		result, err = tx.ExecContext(ctx, `
			UPDATE pointers
			SET current_record_id = ?, updated_at = ?
			WHERE schema_name = ? AND field_name = ? AND entity = ? AND current_record_id = ?
		`, next, at.UnixNano(), key.Schema, key.Field, key.Entity, expected)
	}
	if err != nil {
		return storageErr("swap pointer: write", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storageErr("swap pointer: rows affected", err)
	}
	if rowsAffected == 0 {
		var actual string
		err := tx.QueryRowContext(ctx, `
			SELECT current_record_id FROM pointers
			WHERE schema_name = ? AND field_name = ? AND entity = ?
		`, key.Schema, key.Field, key.Entity).Scan(&actual)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return storageErr("swap pointer: read actual", err)
		}
		return &ConflictError{Key: key, Expected: expected, Actual: actual}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("swap pointer: commit", err)
	}
	return nil
}

// recordExists checks for a record id inside a transaction.
func recordExists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *DB) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
