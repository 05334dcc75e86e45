package kdf

import (
	"bytes"
	"testing"
)

func TestPassphraseKey(t *testing.T) {
	salt := bytes.Repeat([]byte{0x01}, SaltSize)

	k1 := PassphraseKey([]byte("correct horse"), salt)
	k2 := PassphraseKey([]byte("correct horse"), salt)
	if !bytes.Equal(k1, k2) {
		t.Error("same passphrase and salt produced different keys")
	}
	if len(k1) != 32 {
		t.Errorf("key length = %d, want 32", len(k1))
	}

	if bytes.Equal(k1, PassphraseKey([]byte("battery staple"), salt)) {
		t.Error("different passphrases produced the same key")
	}
	if bytes.Equal(k1, PassphraseKey([]byte("correct horse"), bytes.Repeat([]byte{0x02}, SaltSize))) {
		t.Error("different salts produced the same key")
	}

	Zero(k1)
	if !bytes.Equal(k1, make([]byte, 32)) {
		t.Error("Zero() left non-zero bytes")
	}
}
