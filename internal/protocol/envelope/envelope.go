// Package envelope seals a message for one recipient and opens it again.
//
// A sealed envelope carries an AES-128-GCM ciphertext with its detached tag,
// the per-message AES key wrapped with RSA-OAEP under the recipient's public
// key, and an HMAC-SHA-256 of the ciphertext keyed by the same AES key. Open
// checks the HMAC strictly before running the authenticated decryption.
package envelope

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"secure_drop/internal/cryptographic/encryption"
	"secure_drop/internal/cryptographic/keywrap"
	"secure_drop/internal/cryptographic/mac"
	"secure_drop/internal/model"
)

var (
	ErrSeal      = errors.New("seal failed")
	ErrKeyUnwrap = errors.New("cannot unwrap message key")
	ErrIntegrity = errors.New("message tampered or corrupted: mac mismatch")
	ErrAuthTag   = errors.New("message tampered or corrupted: authentication tag mismatch")
)

// Seal encrypts plaintext for the holder of pub. It performs no I/O.
func Seal(plaintext []byte, pub *rsa.PublicKey) (*model.SealedEnvelope, error) {
	key, err := encryption.NewKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSeal, err)
	}

	nonce, ciphertext, tag, err := encryption.AEADEncrypt(key, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSeal, err)
	}

	wrapped, err := keywrap.Wrap(pub, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSeal, err)
	}

	return &model.SealedEnvelope{
		Ciphertext: ciphertext,
		Nonce:      nonce,
		AuthTag:    tag,
		WrappedKey: wrapped,
		MAC:        mac.HMACSHA256(key, ciphertext),
	}, nil
}

// Open recovers the plaintext of env with priv.
func Open(env *model.SealedEnvelope, priv *rsa.PrivateKey) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: empty envelope", ErrIntegrity)
	}

	key, err := keywrap.Unwrap(priv, env.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnwrap, err)
	}
	if len(key) != encryption.KeySize {
		return nil, fmt.Errorf("%w: unwrapped key is %d bytes", ErrKeyUnwrap, len(key))
	}

	// The MAC gate runs before the AEAD is trusted.
	if !mac.Verify(key, env.Ciphertext, env.MAC) {
		return nil, ErrIntegrity
	}

	plaintext, err := encryption.AEADDecrypt(key, env.Nonce, env.Ciphertext, env.AuthTag, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthTag, err)
	}
	return plaintext, nil
}

// IsTamper reports whether err means the envelope could not be trusted, as
// opposed to a configuration or I/O failure.
func IsTamper(err error) bool {
	return errors.Is(err, ErrIntegrity) || errors.Is(err, ErrAuthTag) || errors.Is(err, ErrKeyUnwrap)
}
