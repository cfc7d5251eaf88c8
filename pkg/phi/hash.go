// Package phi handles protected health information before it can reach a
// log sink: one-way hashing of patient identifiers and pattern-based
// scrubbing of free-text values.
package phi

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashLength is the number of hex characters kept from the SHA-256 digest.
const HashLength = 16

// Hash returns a one-way hash of a patient identifier for logging. Only the
// hash may be persisted; the mapping is not reversible by this system.
// Empty input returns the sentinel "EMPTY".
func Hash(value string) string {
	if value == "" {
		return "EMPTY"
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:HashLength]
}
