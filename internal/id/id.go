// Package id generates the client ids the consumer announces to the brokers.
package id

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns prefix followed by a random suffix, e.g. "kconsume-1f0c9a2b3d4e5f60".
// It panics if the system random source fails.
func New(prefix string) string {
	random := make([]byte, 8)
	if _, err := rand.Read(random); err != nil {
		panic(err)
	}
	if prefix == "" {
		return hex.EncodeToString(random)
	}
	return prefix + "-" + hex.EncodeToString(random)
}
