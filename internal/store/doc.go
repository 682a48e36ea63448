// Package store persists immutable records and the mutable pointers that
// expose the latest record of each field's version chain.
//
// The store is the only component that touches physical storage. It offers
// four operations:
//   - AppendRecord: write an immutable record; never partially written
//   - GetRecord: fetch a record by id
//   - GetPointer: fetch the pointer for a (schema, field, entity) key
//   - SwapPointer: compare-and-swap a pointer to a new record
//
// SwapPointer is the only concurrency primitive the rest of fold relies on.
// It succeeds only if the pointer still names the expected record; otherwise
// it returns a *ConflictError carrying the actual value so the caller can
// retry against it. An empty expected id means "no pointer yet", in which case
// the pointer is created only if absent.
//
// # Invariants
//
//   - Records are immutable; a record id is never reused.
//   - A record's prev_id, when set, names an existing record.
//   - A pointer never dangles: SwapPointer refuses a record id that does not exist.
//   - Pointers are created on first write and never deleted.
//
// # Backends
//
// Memory keeps everything in maps guarded by a RWMutex. DB is backed by SQLite
// and configured with:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: pointers and prev links must reference real records
//
// Schema changes are applied with golang-migrate from the embedded
// migrations directory.
package store
