package keywrap

import (
	"bytes"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
)

var (
	keyOnce sync.Once
	keyA    *rsa.PrivateKey
	keyB    *rsa.PrivateKey
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		if keyA, err = NewRSAKey(2048); err != nil {
			t.Fatal(err)
		}
		if keyB, err = NewRSAKey(2048); err != nil {
			t.Fatal(err)
		}
	})
	return keyA, keyB
}

func TestWrapUnwrap(t *testing.T) {
	a, _ := testKeys(t)
	key := []byte("0123456789abcdef")

	wrapped, err := Wrap(&a.PublicKey, key)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	if len(wrapped) != a.Size() {
		t.Errorf("wrapped length = %d, want %d", len(wrapped), a.Size())
	}

	got, err := Unwrap(a, wrapped)
	if err != nil {
		t.Fatalf("Unwrap() error = %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Errorf("Unwrap() = %x, want %x", got, key)
	}
}

func TestUnwrap_Failures(t *testing.T) {
	a, b := testKeys(t)
	wrapped, err := Wrap(&a.PublicKey, []byte("0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("wrong key", func(t *testing.T) {
		if _, err := Unwrap(b, wrapped); !errors.Is(err, ErrUnwrap) {
			t.Errorf("expected ErrUnwrap, got %v", err)
		}
	})

	t.Run("flipped bit", func(t *testing.T) {
		tampered := append([]byte(nil), wrapped...)
		tampered[10] ^= 0x01
		if _, err := Unwrap(a, tampered); !errors.Is(err, ErrUnwrap) {
			t.Errorf("expected ErrUnwrap, got %v", err)
		}
	})

	t.Run("nil key", func(t *testing.T) {
		if _, err := Unwrap(nil, wrapped); !errors.Is(err, ErrUnwrap) {
			t.Errorf("expected ErrUnwrap, got %v", err)
		}
	})
}

func TestNewRSAKey_RejectsWeakSizes(t *testing.T) {
	if _, err := NewRSAKey(1024); !errors.Is(err, ErrWeakKey) {
		t.Errorf("expected ErrWeakKey, got %v", err)
	}
	if err := CheckPublicKey(nil); !errors.Is(err, ErrWeakKey) {
		t.Errorf("CheckPublicKey(nil): expected ErrWeakKey, got %v", err)
	}
}
