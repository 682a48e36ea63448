// Package schema defines named schemas, their field definitions, and the
// registry that resolves (schema, field) lookups for the operation pipeline.
//
// Policies are plain data. AccessPolicy and FeePolicy are evaluated by the
// access and fee packages; TrustScaling is a closed set of variants selected
// by its Kind.
//
// The Registry holds an immutable snapshot of every loaded schema. Load and
// Unload build a new snapshot and swap it in atomically, so concurrent
// lookups never observe a partially loaded schema.
package schema
