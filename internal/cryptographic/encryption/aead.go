package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the AES-128 key length.
	KeySize = 16
	// NonceSize is the standard GCM nonce length.
	NonceSize = 12
	// TagSize is the GCM authentication tag length.
	TagSize = 16
)

var (
	ErrInvalidKeySize   = errors.New("invalid key size")
	ErrInvalidNonceSize = errors.New("invalid nonce size")
	ErrInvalidTagSize   = errors.New("invalid tag size")
	ErrTagMismatch      = errors.New("authentication tag mismatch")
)

// randReader can be swapped in tests.
var randReader io.Reader = rand.Reader

// NewKey returns a fresh random AES-128 key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(randReader, key); err != nil {
		return nil, fmt.Errorf("rand.Read key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

// AEADEncrypt encrypts plaintext with AES-128-GCM under a fresh random nonce
// and returns the nonce, the ciphertext and the detached tag.
func AEADEncrypt(key, plaintext, aad []byte) (nonce, ciphertext, tag []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, nil, err
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("rand.Read nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - aead.Overhead()
	// sealed is ciphertext || tag
	return nonce, sealed[:split], sealed[split:], nil
}

// AEADDecrypt verifies tag and decrypts ciphertext. Any verification failure
// is reported as ErrTagMismatch.
func AEADDecrypt(key, nonce, ciphertext, tag, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidNonceSize, len(nonce), aead.NonceSize())
	}
	if len(tag) != aead.Overhead() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidTagSize, len(tag), aead.Overhead())
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plain, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrTagMismatch
	}
	return plain, nil
}
