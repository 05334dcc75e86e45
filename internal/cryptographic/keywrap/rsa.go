package keywrap

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// MinModulusBits is the smallest RSA modulus accepted for wrapping keys.
const MinModulusBits = 2048

var (
	ErrWeakKey    = errors.New("rsa modulus too small")
	ErrWrapFailed = errors.New("key wrap failed")
	ErrUnwrap     = errors.New("key unwrap failed")
)

var randReader io.Reader = rand.Reader

// NewRSAKey generates an RSA private key of the given size.
func NewRSAKey(bits int) (*rsa.PrivateKey, error) {
	if bits < MinModulusBits {
		return nil, fmt.Errorf("%w: %d bits", ErrWeakKey, bits)
	}
	return rsa.GenerateKey(randReader, bits)
}

// CheckPublicKey rejects keys below MinModulusBits.
func CheckPublicKey(pub *rsa.PublicKey) error {
	if pub == nil || pub.N == nil {
		return fmt.Errorf("%w: nil key", ErrWeakKey)
	}
	if pub.N.BitLen() < MinModulusBits {
		return fmt.Errorf("%w: %d bits", ErrWeakKey, pub.N.BitLen())
	}
	return nil
}

// Wrap encrypts key under pub with RSA-OAEP (SHA-256, empty label).
func Wrap(pub *rsa.PublicKey, key []byte) ([]byte, error) {
	if err := CheckPublicKey(pub); err != nil {
		return nil, err
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), randReader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrapFailed, err)
	}
	return wrapped, nil
}

// Unwrap recovers a key wrapped by Wrap.
func Unwrap(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil key", ErrUnwrap)
	}
	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrap, err)
	}
	return key, nil
}
