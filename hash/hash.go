// Package hash computes content hashes of program trees. Two trees have the
// same hash exactly when they apply the same rules in the same shape, which
// makes the hash usable as a cache key for compiled programs.
package hash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/chazu/fleet/grammar"
)

// Sum is a tree content hash.
type Sum [32]byte

// String returns the hex form of the hash.
func (s Sum) String() string {
	return hex.EncodeToString(s[:])
}

// Short returns the first 12 hex digits, for logs.
func (s Sum) Short() string {
	return s.String()[:12]
}

// HashTree computes the SHA-256 content hash of a tree.
func HashTree(n *grammar.Node) Sum {
	return sha256.Sum256(Serialize(n))
}
