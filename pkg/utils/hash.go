package utils

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// StableID derives a short deterministic id from parts. Parts are joined
// with a separator that cannot occur in text, so ("a", "bc") and
// ("ab", "c") differ.
func StableID(parts ...string) string {
	h := sha1.Sum([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:8])
}
