// Package idutil provides content hashing and identifier generation shared
// by the storage engine and consolidation pipeline.
package idutil

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ContentHash returns the hex-encoded SHA-256 digest of content, used as the
// deduplication key and stable memory identifier.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// GroupHash returns a stable hash over a set of member hashes, order
// independent, used to make compression idempotent: the same cluster
// membership always yields the same summary hash.
func GroupHash(memberHashes []string) string {
	sorted := append([]string(nil), memberHashes...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(sum[:])
}

// NewID returns a fresh random UUID, used for cluster IDs. Consolidation
// run IDs are built from the phase name (or "manual") and a timestamp.
func NewID() string {
	return uuid.NewString()
}
