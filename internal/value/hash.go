package value

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Digest computes a domain-separated SHA-256 over the canonical encoding of v.
// Format: hex(SHA256(domain || 0x00 || canonical(v))).
//
// Domains carry a version suffix, e.g. "fold/content/v1", so the algorithm
// can change without colliding with existing digests.
func Digest(domain string, v Value) (string, error) {
	canonical, err := Canonical(v)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MustDigest is like Digest but panics on error.
// Values built from the closed Value set always encode, so callers that
// construct their own objects may use it safely.
func MustDigest(domain string, v Value) string {
	d, err := Digest(domain, v)
	if err != nil {
		panic(err)
	}
	return d
}
