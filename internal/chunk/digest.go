package chunk

import (
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/sha3"
)

// Digest returns the hex SHA3-256 of data.
func Digest(data []byte) string {
	sum := sha3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hasher accumulates a SHA3-256 over chunks written in index order.
type Hasher struct {
	h    hash.Hash
	next int
}

// NewHasher returns a Hasher expecting chunk 0 first.
func NewHasher() *Hasher {
	return &Hasher{h: sha3.New256()}
}

// Add feeds chunk index into the hash. Only the next expected index is
// accepted; re-sends of earlier chunks are ignored.
func (h *Hasher) Add(index int, data []byte) {
	if index != h.next {
		return
	}
	h.h.Write(data)
	h.next++
}

// Sum returns the hex digest of everything added so far.
func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}
