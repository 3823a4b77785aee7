package utils

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"
)

// HashAlgorithm represents the hashing algorithm to use
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
)

// Hasher computes hex digests of bundles and payloads
type Hasher struct {
	algorithm HashAlgorithm
}

// NewHasher creates a new hasher with the specified algorithm
func NewHasher(algorithm HashAlgorithm) *Hasher {
	return &Hasher{
		algorithm: algorithm,
	}
}

// DefaultHasher returns a hasher with the default algorithm
func DefaultHasher() *Hasher {
	return NewHasher(SHA256)
}

func (h *Hasher) newHash() hash.Hash {
	switch h.algorithm {
	case SHA256:
		return sha256.New()
	default:
		return sha256.New()
	}
}

// Hash computes a hash of the input data
func (h *Hasher) Hash(data []byte) string {
	sum := h.newHash()
	sum.Write(data)
	return hex.EncodeToString(sum.Sum(nil))
}

// HashString computes a hash of a string
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}

// HashReader streams r through the hash and returns the digest and the
// number of bytes read
func (h *Hasher) HashReader(r io.Reader) (string, int64, error) {
	sum := h.newHash()
	n, err := io.Copy(sum, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to hash stream: %w", err)
	}
	return hex.EncodeToString(sum.Sum(nil)), n, nil
}

// Verify compares a computed digest against an expected one in constant
// time. Case and surrounding whitespace in expected are ignored.
func (h *Hasher) Verify(computed, expected string) bool {
	expected = strings.ToLower(strings.TrimSpace(expected))
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1
}
