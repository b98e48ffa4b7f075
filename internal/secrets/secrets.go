// Package secrets encrypts operator credentials at rest. AES-128-GCM with
// a key derived from the process-wide master via HKDF-SHA256; ciphertext
// is base64 so it fits a text column.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 16 // AES-128

var hkdfInfo = []byte("bozbot-credentials-v1")

// Box holds the derived AEAD key.
type Box struct {
	aead cipher.AEAD
}

// New derives the encryption key from the master secret. The master comes
// from the environment and must never be empty.
func New(master string) (*Box, error) {
	if master == "" {
		return nil, errors.New("secrets: empty master key")
	}

	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, []byte(master), nil, hkdfInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("secrets: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce. Output is
// base64(nonce || ciphertext); two encryptions of the same input differ.
func (b *Box) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or foreign ciphertext fails
// authentication.
func (b *Box) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("secrets: decode: %w", err)
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns {
		return "", errors.New("secrets: ciphertext too short")
	}
	plain, err := b.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt: %w", err)
	}
	return string(plain), nil
}
