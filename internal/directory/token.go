package directory

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/argon2"
)

// Owner tokens are 256-bit random values, so a single argon2id pass with a
// modest memory cost is enough.
const (
	argonTime    = 1
	argonMemory  = 16 * 1024 // 16 MB
	argonThreads = 4
	hashLen      = 32
	saltLen      = 16
	tokenLen     = 32
)

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}

// newOwnerToken returns a fresh token and the salted hash to store for it.
func newOwnerToken() (string, []byte) {
	token := base64.RawURLEncoding.EncodeToString(randomBytes(tokenLen))
	return token, hashToken(token, randomBytes(saltLen))
}

func hashToken(token string, salt []byte) []byte {
	sum := argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, hashLen)
	out := make([]byte, 0, len(salt)+len(sum))
	out = append(out, salt...)
	return append(out, sum...)
}

// verifyToken reports whether token matches stored (salt followed by hash).
func verifyToken(token string, stored []byte) bool {
	if token == "" || len(stored) != saltLen+hashLen {
		return false
	}
	return hmac.Equal(hashToken(token, stored[:saltLen]), stored)
}
