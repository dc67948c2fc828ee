// Package security holds the at-rest encryption used for deploy keys and
// helpers for webhook secrets.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Sealed blob layout: version(1) | salt(16) | nonce(12) | ciphertext+tag.
const (
	sealVersion = 1

	SaltSize         = 16
	NonceSize        = 12
	KeySizeAES       = 32
	PBKDF2Iterations = 100000

	headerSize = 1 + SaltSize + NonceSize
)

// ErrSealedData is returned for blobs that are malformed or fail authentication.
var ErrSealedData = errors.New("sealed data rejected")

// DeriveKey stretches the master key with PBKDF2-SHA256.
func DeriveKey(masterKey, salt []byte) []byte {
	return pbkdf2.Key(masterKey, salt, PBKDF2Iterations, KeySizeAES, sha256.New)
}

func newGCM(masterKey, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(masterKey, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext with AES-256-GCM under a key derived from masterKey.
// The blob only opens with the same binding, typically the owning row's ID.
func Seal(plaintext, masterKey, binding []byte) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, fmt.Errorf("master key required for encryption")
	}

	header := make([]byte, headerSize)
	header[0] = sealVersion
	if _, err := rand.Read(header[1:]); err != nil {
		return nil, fmt.Errorf("generate salt and nonce: %w", err)
	}
	salt, nonce := header[1:1+SaltSize], header[1+SaltSize:]

	gcm, err := newGCM(masterKey, salt)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(header, nonce, plaintext, binding), nil
}

// Open reverses Seal.
func Open(blob, masterKey, binding []byte) ([]byte, error) {
	if len(blob) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrSealedData, len(blob))
	}
	if blob[0] != sealVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrSealedData, blob[0])
	}
	salt, nonce := blob[1:1+SaltSize], blob[1+SaltSize:headerSize]

	gcm, err := newGCM(masterKey, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, blob[headerSize:], binding)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealedData, err)
	}
	return plaintext, nil
}

// GenerateToken returns n random bytes hex encoded.
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// TokensEqual compares two secrets in constant time.
func TokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
