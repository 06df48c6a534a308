package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a URL-safe hex string ID, used where a full UUID is overkill
// (queue consumer names, temp file suffixes).
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
