package envelope

import (
	"bytes"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"

	"secure_drop/internal/cryptographic/keywrap"
	"secure_drop/internal/model"
)

var (
	keysOnce sync.Once
	aliceKey *rsa.PrivateKey
	bobKey   *rsa.PrivateKey
	keysErr  error
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keysOnce.Do(func() {
		if aliceKey, keysErr = keywrap.NewRSAKey(2048); keysErr != nil {
			return
		}
		bobKey, keysErr = keywrap.NewRSAKey(2048)
	})
	if keysErr != nil {
		t.Fatalf("NewRSAKey() error = %v", keysErr)
	}
	return aliceKey, bobKey
}

func cloneEnvelope(env *model.SealedEnvelope) *model.SealedEnvelope {
	return &model.SealedEnvelope{
		Ciphertext: append([]byte(nil), env.Ciphertext...),
		Nonce:      append([]byte(nil), env.Nonce...),
		AuthTag:    append([]byte(nil), env.AuthTag...),
		WrappedKey: append([]byte(nil), env.WrappedKey...),
		MAC:        append([]byte(nil), env.MAC...),
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	alice, _ := testKeys(t)

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"hello", []byte("hello")},
		{"unicode", []byte("tin nhắn bí mật 🔐")},
		{"binary", []byte{0x00, 0xff, 0x10, 0x80}},
		{"large", bytes.Repeat([]byte("x"), 64*1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Seal(tt.plaintext, &alice.PublicKey)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			got, err := Open(env, alice)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Errorf("Open() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestSeal_FreshKeyAndNonce(t *testing.T) {
	alice, _ := testKeys(t)
	e1, err := Seal([]byte("same"), &alice.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := Seal([]byte("same"), &alice.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(e1.Nonce, e2.Nonce) {
		t.Error("nonce reused across envelopes")
	}
	if bytes.Equal(e1.MAC, e2.MAC) {
		t.Error("mac identical across envelopes, message key was reused")
	}
}

func TestSeal_RejectsWeakKey(t *testing.T) {
	if _, err := Seal([]byte("x"), nil); !errors.Is(err, ErrSeal) {
		t.Errorf("expected ErrSeal, got %v", err)
	}
}

// Every single-bit flip must be rejected, never yield altered plaintext.
func TestOpen_BitFlips(t *testing.T) {
	alice, _ := testKeys(t)
	original, err := Seal([]byte("attack at dawn"), &alice.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	fields := []struct {
		name  string
		field func(*model.SealedEnvelope) []byte
		want  []error
	}{
		{"ciphertext", func(e *model.SealedEnvelope) []byte { return e.Ciphertext }, []error{ErrIntegrity}},
		{"authTag", func(e *model.SealedEnvelope) []byte { return e.AuthTag }, []error{ErrAuthTag}},
		{"mac", func(e *model.SealedEnvelope) []byte { return e.MAC }, []error{ErrIntegrity}},
		{"nonce", func(e *model.SealedEnvelope) []byte { return e.Nonce }, []error{ErrAuthTag}},
		{"wrappedKey", func(e *model.SealedEnvelope) []byte { return e.WrappedKey }, []error{ErrKeyUnwrap, ErrIntegrity}},
	}

	for _, f := range fields {
		t.Run(f.name, func(t *testing.T) {
			n := len(f.field(original)) * 8
			step := 1
			if f.name == "wrappedKey" {
				// RSA decryption is slow, sample the bits.
				step = 61
			}
			for bit := 0; bit < n; bit += step {
				env := cloneEnvelope(original)
				f.field(env)[bit/8] ^= 1 << (bit % 8)

				got, err := Open(env, alice)
				if err == nil {
					t.Fatalf("bit %d: Open() returned %q for a tampered envelope", bit, got)
				}
				matched := false
				for _, want := range f.want {
					if errors.Is(err, want) {
						matched = true
					}
				}
				if !matched {
					t.Fatalf("bit %d: unexpected error %v", bit, err)
				}
				if !IsTamper(err) {
					t.Fatalf("bit %d: IsTamper(%v) = false", bit, err)
				}
			}
		})
	}
}

func TestOpen_MACCheckedBeforeAEAD(t *testing.T) {
	alice, _ := testKeys(t)
	env, err := Seal([]byte("ordering"), &alice.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	// Break both the mac and the tag: the mac failure must win.
	env.MAC[0] ^= 0xff
	env.AuthTag[0] ^= 0xff
	if _, err := Open(env, alice); !errors.Is(err, ErrIntegrity) {
		t.Errorf("expected ErrIntegrity, got %v", err)
	}
}

func TestOpen_WrongKey(t *testing.T) {
	alice, bob := testKeys(t)
	env, err := Seal([]byte("for alice only"), &alice.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	_, err = Open(env, bob)
	if !errors.Is(err, ErrKeyUnwrap) && !errors.Is(err, ErrIntegrity) {
		t.Errorf("expected ErrKeyUnwrap or ErrIntegrity, got %v", err)
	}
}

func TestOpen_Malformed(t *testing.T) {
	alice, _ := testKeys(t)
	env, err := Seal([]byte("x"), &alice.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("nil envelope", func(t *testing.T) {
		if _, err := Open(nil, alice); !errors.Is(err, ErrIntegrity) {
			t.Errorf("expected ErrIntegrity, got %v", err)
		}
	})

	t.Run("truncated tag", func(t *testing.T) {
		e := cloneEnvelope(env)
		e.AuthTag = e.AuthTag[:8]
		if _, err := Open(e, alice); !errors.Is(err, ErrAuthTag) {
			t.Errorf("expected ErrAuthTag, got %v", err)
		}
	})

	t.Run("missing wrapped key", func(t *testing.T) {
		e := cloneEnvelope(env)
		e.WrappedKey = nil
		if _, err := Open(e, alice); !errors.Is(err, ErrKeyUnwrap) {
			t.Errorf("expected ErrKeyUnwrap, got %v", err)
		}
	})
}
