package models

import (
	"time"
)

// KeyType enumerates the supported deploy key algorithms.
type KeyType string

const (
	KeyTypeEd25519 KeyType = "ed25519"
)

// Credential is the deploy keypair owned by exactly one target.
type Credential struct {
	ID                  string    `json:"id"`
	TargetID            string    `json:"target_id"`
	KeyType             KeyType   `json:"key_type"`
	PublicKey           string    `json:"public_key"`
	Fingerprint         string    `json:"fingerprint"`
	PrivateKeyEncrypted []byte    `json:"-"` // Never expose in JSON
	CreatedAt           time.Time `json:"created_at"`

	// PrivateKey holds the plaintext PEM right after issuance only.
	PrivateKey []byte `json:"-"`
}

// ParseKeyType converts a string to KeyType.
func ParseKeyType(s string) KeyType {
	switch s {
	case "ed25519":
		return KeyTypeEd25519
	default:
		return KeyTypeEd25519
	}
}
