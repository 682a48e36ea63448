package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Ensure Memory implements the Backend interface.
var _ Backend = (*Memory)(nil)

// storedRecord keeps content in canonical form so callers can never mutate
// a record after it is appended.
type storedRecord struct {
	rec     Record
	content string
}

// Memory is an in-process Backend. It is the backend used by tests and the
// scenario harness.
type Memory struct {
	mu       sync.RWMutex
	records  map[string]storedRecord
	pointers map[PointerKey]Pointer
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]storedRecord),
		pointers: make(map[PointerKey]Pointer),
	}
}

// AppendRecord stores rec under rec.ID.
func (m *Memory) AppendRecord(ctx context.Context, rec Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", storageErr("append record", err)
	}
	if rec.ID == "" {
		return "", fmt.Errorf("append record: empty id")
	}

	content, digest, err := encodeContent(rec.Content)
	if err != nil {
		return "", fmt.Errorf("append record: %w", err)
	}
	rec.ContentDigest = digest
	rec.Content = nil

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.ID]; exists {
		return "", fmt.Errorf("append record %s: %w", rec.ID, ErrDuplicateRecord)
	}
	if rec.PrevID != "" {
		if _, ok := m.records[rec.PrevID]; !ok {
			return "", fmt.Errorf("append record %s: prev %s: %w", rec.ID, rec.PrevID, ErrNotFound)
		}
	}
	m.records[rec.ID] = storedRecord{rec: rec, content: content}
	return rec.ID, nil
}

// GetRecord returns the record with the given id.
func (m *Memory) GetRecord(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, storageErr("get record", err)
	}

	m.mu.RLock()
	stored, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("get record %s: %w", id, ErrNotFound)
	}

	rec := stored.rec
	content, err := decodeContent(stored.content)
	if err != nil {
		return Record{}, storageErr("get record", err)
	}
	rec.Content = content
	return rec, nil
}

// GetPointer returns the pointer for key, or nil if none exists.
func (m *Memory) GetPointer(ctx context.Context, key PointerKey) (*Pointer, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("get pointer", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pointers[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// SwapPointer performs the compare-and-swap under the write lock.
func (m *Memory) SwapPointer(ctx context.Context, key PointerKey, expected, next string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return storageErr("swap pointer", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[next]; !ok {
		return fmt.Errorf("swap pointer %s: record %s: %w", key, next, ErrNotFound)
	}

	current, exists := m.pointers[key]
	actual := ""
	if exists {
		actual = current.CurrentRecordID
	}
	if actual != expected {
		return &ConflictError{Key: key, Expected: expected, Actual: actual}
	}

	m.pointers[key] = Pointer{
		ID:              key.ID(),
		Key:             key,
		CurrentRecordID: next,
		UpdatedAt:       at.UTC(),
	}
	return nil
}

// Len returns the number of stored records, including unreachable ones.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
