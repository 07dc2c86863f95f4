package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash is a 32-byte cryptographic digest. Every identity level in this
// package (intent hash, notarized hash, ledger hash, accumulator and state
// roots) is a Hash. Cryptographic primitives are assumed available per the
// spec's Non-goals; this repo uses stdlib sha256 directly rather than a
// pluggable hash interface, since nothing here needs to swap algorithms at
// runtime.
type Hash [32]byte

// ZeroHash is the all-zero digest, used as the JMT's empty-tree root and as
// the accumulator base before any leaf has been appended.
var ZeroHash Hash

// HashBytes returns the sha256 digest of b.
func HashBytes(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// HashConcat hashes the concatenation of parts without an intermediate
// allocation per part.
func HashConcat(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// ParseHash decodes a 32-byte hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("parse hash: %w", err)
	}
	if len(b) != 32 {
		return Hash{}, fmt.Errorf("parse hash: expected 32 bytes, got %d", len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}
