package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/fold/internal/value"
)

// Digest domains for store-derived identifiers.
const (
	DomainPointer = "fold/pointer/v1"
	DomainContent = "fold/content/v1"
)

// PointerKey addresses one version chain: a field of a schema, owned by an entity.
type PointerKey struct {
	Schema string `json:"schema"`
	Field  string `json:"field"`
	Entity string `json:"entity"`
}

// ID derives the pointer id from the key. The same key always yields the same
// id, so concurrent first writers race on a single pointer row.
func (k PointerKey) ID() string {
	return value.MustDigest(DomainPointer, value.Object{
		"schema": value.String(k.Schema),
		"field":  value.String(k.Field),
		"entity": value.String(k.Entity),
	})
}

func (k PointerKey) String() string {
	return fmt.Sprintf("%s.%s/%s", k.Schema, k.Field, k.Entity)
}

// Record is one immutable version of a field's content.
type Record struct {
	ID            string      `json:"id"`
	Schema        string      `json:"schema"`
	Field         string      `json:"field"`
	Entity        string      `json:"entity"`
	Content       value.Value `json:"content"`
	ContentDigest string      `json:"content_digest"`
	Deleted       bool        `json:"deleted,omitempty"`
	SourceKey     string      `json:"source_key"`
	CreatedAt     time.Time   `json:"created_at"`
	PrevID        string      `json:"prev_id,omitempty"` // empty for the first version
}

// Key returns the pointer key of the chain this record belongs to.
func (r Record) Key() PointerKey {
	return PointerKey{Schema: r.Schema, Field: r.Field, Entity: r.Entity}
}

// Pointer is the mutable indirection to the latest record of a chain.
type Pointer struct {
	ID              string     `json:"id"`
	Key             PointerKey `json:"key"`
	CurrentRecordID string     `json:"current_record_id"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Backend is the record store contract. Implementations must be safe for
// concurrent use.
type Backend interface {
	// AppendRecord durably writes rec and returns its id. It fails if the id
	// is already used or rec.PrevID names a missing record.
	AppendRecord(ctx context.Context, rec Record) (string, error)

	// GetRecord returns ErrNotFound if no record has the id.
	GetRecord(ctx context.Context, id string) (Record, error)

	// GetPointer returns nil, nil if the chain has never been written.
	GetPointer(ctx context.Context, key PointerKey) (*Pointer, error)

	// SwapPointer sets the pointer for key to next if it currently names
	// expected ("" for no pointer). Returns *ConflictError otherwise.
	SwapPointer(ctx context.Context, key PointerKey, expected, next string, at time.Time) error
}

// encodeContent returns the canonical encoding and digest stored alongside a record.
func encodeContent(v value.Value) (string, string, error) {
	data, err := value.Canonical(v)
	if err != nil {
		return "", "", fmt.Errorf("encode content: %w", err)
	}
	digest, err := value.Digest(DomainContent, v)
	if err != nil {
		return "", "", fmt.Errorf("encode content: %w", err)
	}
	return string(data), digest, nil
}

// decodeContent parses stored canonical JSON back into a value.
func decodeContent(data string) (value.Value, error) {
	v, err := value.Parse([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return v, nil
}
