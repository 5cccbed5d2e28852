package itemkey

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/conorfennell/sleepwell/internal/domain"
)

// Normalize returns the identity of an item: its name lowercased, trimmed and
// with inner whitespace collapsed. Two cards match when their identities are equal.
func Normalize(item domain.Item) string {
	return strings.Join(strings.Fields(strings.ToLower(item.Name)), " ")
}

// Hash takes an item, normalizes it, and returns its SHA-256 hash as a hex string.
// The face is not part of the hash, so re-skinning an item keeps its identity.
func Hash(item domain.Item) string {
	hashBytes := sha256.Sum256([]byte(Normalize(item)))
	return fmt.Sprintf("%x", hashBytes)
}
