package mac

import (
	"crypto/hmac"
	"crypto/sha256"
)

const Size = sha256.Size

// HMACSHA256 computes HMAC-SHA-256 of data under key.
func HMACSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// Verify recomputes the digest and compares it in constant time.
func Verify(key, data, expected []byte) bool {
	return hmac.Equal(HMACSHA256(key, data), expected)
}
