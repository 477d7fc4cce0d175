package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random 128-bit identifier rendered as hex, with an
// optional type prefix ("prj", "rev", "cli").
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewClientID mints the ephemeral identity a process uses on the sync
// channel. It is never persisted; it only lets a subscriber skip updates
// it published itself.
func NewClientID() string {
	return NewID("cli")
}
