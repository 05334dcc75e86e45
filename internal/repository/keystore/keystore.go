package keystore

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"secure_drop/internal/cryptographic/keywrap"
	"secure_drop/internal/model"
	"secure_drop/internal/utils/log"

	"go.uber.org/zap"
)

// DefaultBits is the RSA modulus size used for new identities.
const DefaultBits = 2048

var (
	ErrKeyGen  = errors.New("key generation failed")
	ErrKeyLoad = errors.New("key load failed")
	ErrKeySave = errors.New("key save failed")
)

type (
	// KeyStore keeps one RSA key pair per identity as two PEM files in dir.
	KeyStore struct {
		dir        string
		passphrase []byte
		bits       int
	}

	Option func(*KeyStore)
)

// WithPassphrase seals private keys at rest. Loading a sealed key requires
// the same passphrase.
func WithPassphrase(passphrase []byte) Option {
	return func(k *KeyStore) {
		if len(passphrase) > 0 {
			k.passphrase = append([]byte(nil), passphrase...)
		}
	}
}

func WithBits(bits int) Option {
	return func(k *KeyStore) {
		k.bits = bits
	}
}

func New(dir string, opts ...Option) *KeyStore {
	k := &KeyStore{
		dir:  dir,
		bits: DefaultBits,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// GenerateKeyPair creates a fresh key pair. It does not persist anything.
func GenerateKeyPair(bits int) (*model.KeyPair, error) {
	priv, err := keywrap.NewRSAKey(bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGen, err)
	}
	return &model.KeyPair{Public: &priv.PublicKey, Private: priv}, nil
}

func (k *KeyStore) PublicKeyPath(identity string) string {
	return filepath.Join(k.dir, identity+"_public.pem")
}

func (k *KeyStore) PrivateKeyPath(identity string) string {
	return filepath.Join(k.dir, identity+"_private.pem")
}

// SaveKeyPair writes both halves of kp for identity, private key first.
func (k *KeyStore) SaveKeyPair(identity string, kp *model.KeyPair) error {
	if err := model.ValidateRecipientID(identity); err != nil {
		return err
	}
	if kp == nil || kp.Private == nil {
		return fmt.Errorf("%w: empty key pair", ErrKeySave)
	}
	if err := os.MkdirAll(k.dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrKeySave, err)
	}

	privPEM, err := encodePrivateKey(kp.Private, k.passphrase)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeySave, err)
	}
	if err := writeFileAtomic(k.PrivateKeyPath(identity), privPEM, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrKeySave, err)
	}

	return k.savePublicKey(identity, &kp.Private.PublicKey)
}

func (k *KeyStore) savePublicKey(identity string, pub *rsa.PublicKey) error {
	pubPEM, err := encodePublicKey(pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeySave, err)
	}
	if err := writeFileAtomic(k.PublicKeyPath(identity), pubPEM, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrKeySave, err)
	}
	return nil
}

// EnsureKeyPair makes sure identity has a usable key pair on disk and reports
// whether a new one was generated. A lost public key is re-derived from the
// private key rather than replacing the identity.
func (k *KeyStore) EnsureKeyPair(identity string) (bool, error) {
	if err := model.ValidateRecipientID(identity); err != nil {
		return false, err
	}

	privPath := k.PrivateKeyPath(identity)
	if fileExists(privPath) {
		if fileExists(k.PublicKeyPath(identity)) {
			return false, nil
		}
		priv, err := k.LoadPrivateKey(privPath)
		if err != nil {
			return false, err
		}
		log.Warn("public key missing, re-deriving from private key", zap.String("identity", identity))
		return false, k.savePublicKey(identity, &priv.PublicKey)
	}

	kp, err := GenerateKeyPair(k.bits)
	if err != nil {
		return false, err
	}
	if err := k.SaveKeyPair(identity, kp); err != nil {
		return false, err
	}
	log.Info("generated key pair", zap.String("identity", identity), zap.Int("bits", k.bits))
	return true, nil
}

// LoadPublicKey reads a PEM public key from path.
func (k *KeyStore) LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyLoad, err)
	}
	pub, err := decodePublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrKeyLoad, path, err)
	}
	return pub, nil
}

// LoadPrivateKey reads a PEM private key from path, unsealing it if needed.
func (k *KeyStore) LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyLoad, err)
	}
	priv, err := decodePrivateKey(data, k.passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrKeyLoad, path, err)
	}
	return priv, nil
}

// PublicKey loads identity's public key from disk.
func (k *KeyStore) PublicKey(identity string) (*rsa.PublicKey, error) {
	if err := model.ValidateRecipientID(identity); err != nil {
		return nil, err
	}
	return k.LoadPublicKey(k.PublicKeyPath(identity))
}

// PrivateKey loads identity's private key from disk.
func (k *KeyStore) PrivateKey(identity string) (*rsa.PrivateKey, error) {
	if err := model.ValidateRecipientID(identity); err != nil {
		return nil, err
	}
	return k.LoadPrivateKey(k.PrivateKeyPath(identity))
}

// PublicKeyPEM returns identity's public key re-encoded as PKIX PEM.
func (k *KeyStore) PublicKeyPEM(identity string) ([]byte, error) {
	pub, err := k.PublicKey(identity)
	if err != nil {
		return nil, err
	}
	return encodePublicKey(pub)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
