package model

import "time"

type (
	// SealedEnvelope is one message encrypted for a single recipient. Byte
	// fields are base64 in JSON.
	SealedEnvelope struct {
		Ciphertext []byte `json:"ciphertext" bson:"ciphertext"`
		Nonce      []byte `json:"nonce" bson:"nonce"`
		AuthTag    []byte `json:"authTag" bson:"auth_tag"`
		WrappedKey []byte `json:"wrappedKey" bson:"wrapped_key"`
		MAC        []byte `json:"mac" bson:"mac"`
	}

	// StoredMessage is the persisted record for one recipient slot.
	StoredMessage struct {
		Envelope  *SealedEnvelope `json:"message" bson:"message"`
		ReadOnce  bool            `json:"readOnce" bson:"read_once"`
		ExpiryUTC time.Time       `json:"expiryUtc" bson:"expiry_utc"`
	}
)

// ExpiredAt reports whether the record is past its validity window at now.
// A record is still valid at exactly its expiry instant.
func (m *StoredMessage) ExpiredAt(now time.Time) bool {
	return now.After(m.ExpiryUTC)
}

// Remaining returns the time left before expiry, never negative.
func (m *StoredMessage) Remaining(now time.Time) time.Duration {
	d := m.ExpiryUTC.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
