package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns the hex sha256 of raw document bytes. Used to detect
// unchanged re-uploads and to key the query-embedding cache.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// TextHash returns the hex sha256 of a string.
func TextHash(text string) string {
	return ContentHash([]byte(text))
}
