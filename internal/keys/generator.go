// Package keys implements gateway key issuance and the lifecycle of
// credential mappings: the saga that keeps the record store and the remote
// gateway's registration in sync.
package keys

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// KeyPrefix is the constant, recognizable prefix of every gateway key. The
// remote gateway rejects tokens without it before doing any lookup.
const KeyPrefix = "sk-shield-"

// suffixBytes gives 192 bits of randomness, a 32-character base64url suffix.
const suffixBytes = 24

// KeyLength is the fixed total length of a generated gateway key.
const KeyLength = len(KeyPrefix) + 32

// GenerateKey produces a new opaque gateway key: the constant prefix followed
// by a suffix drawn from a cryptographically secure random source.
func GenerateKey() (string, error) {
	buf := make([]byte, suffixBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

const maskRune = "•"

// Mask returns the display form of a secret or gateway key: a fixed run of
// placeholder characters plus the literal last 4 characters. Inputs of 4
// characters or fewer collapse to the all-placeholder constant so nothing
// leaks.
func Mask(s string) string {
	r := []rune(s)
	if len(r) <= 4 {
		return strings.Repeat(maskRune, 4)
	}
	return strings.Repeat(maskRune, 8) + string(r[len(r)-4:])
}
