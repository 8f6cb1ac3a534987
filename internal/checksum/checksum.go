// Package checksum provides the digests used to identify collection content.
package checksum

import (
	"crypto/sha1" //nolint:gosec // digest format is fixed by the collection format
	"encoding/hex"
	"hash"
	"strconv"
)

// Sum returns the hex-encoded SHA-1 digest of data.
func Sum(data []byte) string {
	h := sha1.Sum(data) //nolint:gosec
	return hex.EncodeToString(h[:])
}

// SumString returns the hex-encoded SHA-1 digest of s.
func SumString(s string) string {
	return Sum([]byte(s))
}

// New returns a hash whose hex-encoded sum matches Sum over the same bytes.
func New() hash.Hash {
	return sha1.New() //nolint:gosec
}

// Hex returns the hex-encoded sum of h.
func Hex(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Field returns the 32-bit duplicate-detection checksum of an already stripped field:
// the first eight hex digits of its SHA-1 digest.
func Field(stripped string) int64 {
	v, err := strconv.ParseInt(SumString(stripped)[:8], 16, 64)
	if err != nil {
		return 0
	}
	return v
}
