package model

import "crypto/rsa"

type (
	// KeyPair is a recipient identity's RSA key pair.
	KeyPair struct {
		Public  *rsa.PublicKey
		Private *rsa.PrivateKey
	}
)
