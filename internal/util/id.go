package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID mints a random identifier for clients, assets, and queue jobs.
// Hex keeps the value safe to embed in asset paths and Redis keys.
func NewID() string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
