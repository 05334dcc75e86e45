package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"secure_drop/internal/cryptographic/kdf"
	"secure_drop/internal/cryptographic/keywrap"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	pemPublicKey      = "PUBLIC KEY"
	pemRSAPublicKey   = "RSA PUBLIC KEY"
	pemPrivateKey     = "PRIVATE KEY"
	pemRSAPrivateKey  = "RSA PRIVATE KEY"
	pemSealedPrivate  = "SEALED PRIVATE KEY"
	sealedKDFHeader   = "Kdf"
	sealedSaltHeader  = "Salt"
	sealedNonceHeader = "Nonce"
	sealedKDFArgon2ID = "argon2id"
)

var (
	errNoPEM              = errors.New("no PEM block found")
	errNotRSA             = errors.New("not an RSA key")
	errPassphraseRequired = errors.New("private key is sealed, passphrase required")
	errWrongPassphrase    = errors.New("cannot unseal private key, wrong passphrase or corrupt file")
)

func encodePublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemPublicKey, Bytes: der}), nil
}

// decodePublicKey accepts PKIX and PKCS#1 public keys.
func decodePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errNoPEM
	}

	var pub *rsa.PublicKey
	switch block.Type {
	case pemPublicKey:
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errNotRSA
		}
		pub = rsaKey
	case pemRSAPublicKey:
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		pub = key
	default:
		return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
	}

	if err := keywrap.CheckPublicKey(pub); err != nil {
		return nil, err
	}
	return pub, nil
}

func encodePrivateKey(priv *rsa.PrivateKey, passphrase []byte) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return pem.EncodeToMemory(&pem.Block{Type: pemPrivateKey, Bytes: der}), nil
	}
	block, err := sealPrivateKey(der, passphrase)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(block), nil
}

// decodePrivateKey accepts PKCS#8, PKCS#1 and sealed PKCS#8 blocks.
func decodePrivateKey(data, passphrase []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errNoPEM
	}

	var priv *rsa.PrivateKey
	switch block.Type {
	case pemPrivateKey, pemSealedPrivate:
		der := block.Bytes
		if block.Type == pemSealedPrivate {
			opened, err := openPrivateKey(block, passphrase)
			if err != nil {
				return nil, err
			}
			der = opened
		}
		key, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errNotRSA
		}
		priv = rsaKey
	case pemRSAPrivateKey:
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		priv = key
	default:
		return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
	}

	if err := keywrap.CheckPublicKey(&priv.PublicKey); err != nil {
		return nil, err
	}
	return priv, nil
}

func sealPrivateKey(der, passphrase []byte) (*pem.Block, error) {
	salt := make([]byte, kdf.SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	key := kdf.PassphraseKey(passphrase, salt)
	defer kdf.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return &pem.Block{
		Type: pemSealedPrivate,
		Headers: map[string]string{
			sealedKDFHeader:   sealedKDFArgon2ID,
			sealedSaltHeader:  hex.EncodeToString(salt),
			sealedNonceHeader: hex.EncodeToString(nonce),
		},
		Bytes: aead.Seal(nil, nonce, der, []byte(pemSealedPrivate)),
	}, nil
}

func openPrivateKey(block *pem.Block, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errPassphraseRequired
	}
	if block.Headers[sealedKDFHeader] != sealedKDFArgon2ID {
		return nil, fmt.Errorf("unsupported kdf %q", block.Headers[sealedKDFHeader])
	}
	salt, err := hex.DecodeString(block.Headers[sealedSaltHeader])
	if err != nil {
		return nil, fmt.Errorf("bad salt header: %w", err)
	}
	nonce, err := hex.DecodeString(block.Headers[sealedNonceHeader])
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, errors.New("bad nonce header")
	}

	key := kdf.PassphraseKey(passphrase, salt)
	defer kdf.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	der, err := aead.Open(nil, nonce, block.Bytes, []byte(pemSealedPrivate))
	if err != nil {
		return nil, errWrongPassphrase
	}
	return der, nil
}
