// Package chain implements the version chain model on top of a store.Backend.
//
// Every field of every entity is a singly linked chain of immutable records,
// newest first, reachable from one mutable pointer:
//
//	pointer -> R3 -> R2 -> R1 -> (none)
//
// A write reads the pointer, appends a new record whose PrevID is the
// record just read, then compare-and-swaps the pointer from the old id to
// the new one. A failed swap means another writer won; the whole sequence
// is retried against the new head, up to a bounded number of attempts.
// No lock is held across the sequence, so writes to different chains are
// fully concurrent and writes to the same chain are linearized by the CAS.
//
// Records appended by a losing attempt are never exposed by a pointer. They
// stay in the store as unreachable orphans.
//
// Invariants:
//   - A record's CreatedAt is never before its predecessor's.
//   - Following PrevID from any pointer terminates.
//   - A pointer only ever names a record that has already been appended.
package chain
