// Package hashutil provides content hashing for document integrity checks.
//
// All hashes are hex-encoded SHA-256 over the UTF-8 bytes of the content.
// The same content always produces the same hash, which is what lets the
// sync engine decide whether two copies of a document diverge without
// comparing the full bodies.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the hex-encoded SHA-256 digest of the UTF-8 bytes of content.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether content hashes to expected.
// An empty expected hash never verifies.
func Verify(content, expected string) bool {
	if expected == "" {
		return false
	}
	return Hash(content) == expected
}
