package kdf

import (
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	Argon2Time    uint32 = 2
	Argon2Memory  uint32 = 64 * 1024
	Argon2Threads uint8  = 1
	SaltSize             = 16
)

// PassphraseKey derives a 32-byte key from passphrase with Argon2id.
func PassphraseKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, Argon2Time, Argon2Memory, Argon2Threads, chacha20poly1305.KeySize)
}

func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
