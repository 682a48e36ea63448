package chain

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/roach88/fold/internal/store"
	"github.com/roach88/fold/internal/value"
)

// DefaultMaxAttempts bounds the read-append-swap loop of a single write.
const DefaultMaxAttempts = 4

// Chain performs versioned reads and writes against a backend.
//
// Thread-safety: Chain is safe for concurrent use. It holds no state
// besides its configuration; all coordination happens in the backend's
// pointer compare-and-swap.
type Chain struct {
	backend     store.Backend
	maxAttempts int
	clock       Clock
	ids         IDGenerator
	logger      *slog.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithMaxAttempts sets how many times a write is attempted before it fails
// with a WriteConflictError. Values below 1 keep the default.
func WithMaxAttempts(n int) Option {
	return func(c *Chain) {
		if n >= 1 {
			c.maxAttempts = n
		}
	}
}

// WithClock sets the record timestamp source.
func WithClock(clock Clock) Option {
	return func(c *Chain) {
		c.clock = clock
	}
}

// WithIDGenerator sets the record id source.
func WithIDGenerator(ids IDGenerator) Option {
	return func(c *Chain) {
		c.ids = ids
	}
}

// WithLogger sets the logger. Retries are logged at Debug and exhausted
// retry budgets at Warn.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) {
		c.logger = logger
	}
}

// New creates a Chain over backend.
func New(backend store.Backend, opts ...Option) *Chain {
	c := &Chain{
		backend:     backend,
		maxAttempts: DefaultMaxAttempts,
		clock:       SystemClock{},
		ids:         UUIDv7Generator{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxAttempts returns the configured retry bound.
func (c *Chain) MaxAttempts() int {
	return c.maxAttempts
}

// Write appends content as the new head of key's chain and returns the
// record that became visible. Writing the same content twice produces two
// records.
func (c *Chain) Write(ctx context.Context, key store.PointerKey, content value.Value, writerKey string) (store.Record, error) {
	if content == nil {
		content = value.Null{}
	}
	return c.write(ctx, key, content, false, writerKey)
}

// Delete appends a tombstone as the new head of key's chain. The pointer
// is kept; reads of a tombstoned chain return store.ErrNotFound while
// History still lists every version. Deleting a chain with no live content
// returns store.ErrNotFound.
func (c *Chain) Delete(ctx context.Context, key store.PointerKey, writerKey string) (store.Record, error) {
	return c.write(ctx, key, value.Null{}, true, writerKey)
}

func (c *Chain) write(ctx context.Context, key store.PointerKey, content value.Value, deleted bool, writerKey string) (store.Record, error) {
	digest, err := value.Digest(store.DomainContent, content)
	if err != nil {
		return store.Record{}, fmt.Errorf("write %s: %w", key, err)
	}

	var conflict error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		expected, prev, err := c.head(ctx, key)
		if err != nil {
			return store.Record{}, fmt.Errorf("write %s: %w", key, err)
		}
		if deleted && (prev == nil || prev.Deleted) {
			return store.Record{}, fmt.Errorf("delete %s: %w", key, store.ErrNotFound)
		}

		now := c.clock.Now()
		if prev != nil && now.Before(prev.CreatedAt) {
			now = prev.CreatedAt
		}

		rec := store.Record{
			ID:            c.ids.Generate(),
			Schema:        key.Schema,
			Field:         key.Field,
			Entity:        key.Entity,
			Content:       content,
			ContentDigest: digest,
			Deleted:       deleted,
			SourceKey:     writerKey,
			CreatedAt:     now,
			PrevID:        expected,
		}

		id, err := c.backend.AppendRecord(ctx, rec)
		if err != nil {
			return store.Record{}, fmt.Errorf("write %s: %w", key, err)
		}
		rec.ID = id

		err = c.backend.SwapPointer(ctx, key, expected, id, now)
		if err == nil {
			c.logger.Debug("record written",
				"key", key.String(),
				"record_id", id,
				"prev_id", expected,
				"attempt", attempt)
			return rec, nil
		}
		if !store.IsConflict(err) {
			return store.Record{}, fmt.Errorf("write %s: %w", key, err)
		}

		conflict = err
		c.logger.Debug("pointer moved, retrying write",
			"key", key.String(),
			"attempt", attempt,
			"orphan_id", id)
	}

	c.logger.Warn("write retry budget exhausted",
		"key", key.String(),
		"attempts", c.maxAttempts)
	return store.Record{}, &WriteConflictError{Key: key, Attempts: c.maxAttempts, Last: conflict}
}

// head returns the pointer's current record id and that record, or "" and
// nil for a chain that has never been written.
func (c *Chain) head(ctx context.Context, key store.PointerKey) (string, *store.Record, error) {
	ptr, err := c.backend.GetPointer(ctx, key)
	if err != nil {
		return "", nil, err
	}
	if ptr == nil || ptr.CurrentRecordID == "" {
		return "", nil, nil
	}
	rec, err := c.backend.GetRecord(ctx, ptr.CurrentRecordID)
	if err != nil {
		return "", nil, err
	}
	return ptr.CurrentRecordID, &rec, nil
}

// Read returns the head record of key's chain. It returns store.ErrNotFound
// if the chain has never been written or its head is a tombstone.
func (c *Chain) Read(ctx context.Context, key store.PointerKey) (store.Record, error) {
	_, rec, err := c.head(ctx, key)
	if err != nil {
		return store.Record{}, fmt.Errorf("read %s: %w", key, err)
	}
	if rec == nil {
		return store.Record{}, fmt.Errorf("read %s: %w", key, store.ErrNotFound)
	}
	if rec.Deleted {
		return store.Record{}, fmt.Errorf("read %s: deleted: %w", key, store.ErrNotFound)
	}
	return *rec, nil
}

// History yields key's records newest first, tombstones included, ending
// at the first version. Each range over the sequence starts again from the
// current pointer. An error ends the sequence.
func (c *Chain) History(ctx context.Context, key store.PointerKey) iter.Seq2[store.Record, error] {
	return func(yield func(store.Record, error) bool) {
		ptr, err := c.backend.GetPointer(ctx, key)
		if err != nil {
			yield(store.Record{}, fmt.Errorf("history %s: %w", key, err))
			return
		}
		if ptr == nil {
			return
		}

		seen := make(map[string]bool)
		for id := ptr.CurrentRecordID; id != ""; {
			if seen[id] {
				yield(store.Record{}, fmt.Errorf("history %s: cycle at %s", key, id))
				return
			}
			seen[id] = true

			rec, err := c.backend.GetRecord(ctx, id)
			if err != nil {
				yield(store.Record{}, fmt.Errorf("history %s: %w", key, err))
				return
			}
			if !yield(rec, nil) {
				return
			}
			id = rec.PrevID
		}
	}
}

// Collect drains a History sequence into a slice.
func Collect(seq iter.Seq2[store.Record, error]) ([]store.Record, error) {
	var out []store.Record
	for rec, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// IsNotFound reports whether err means the chain has no readable content.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
