// Package value defines the structured content stored in fold records.
//
// A Value is one of Null, String, Int, Float, Bool, Array or Object. Every
// value has exactly one canonical encoding (RFC 8785), which is what record
// digests and fee audit digests are computed over.
//
// value imports nothing internal; every other package may import it.
package value
