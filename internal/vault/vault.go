
// Package vault provides authenticated encryption for channel credentials
// at rest (§4.1). A single AES-256-GCM key, supplied via the CRYPTO_KEY
// environment variable, seals and opens every channel's API tokens before
// internal/registry holds them in memory. Ciphertext is self-describing
// (nonce || ciphertext || tag, base64-encoded) so no separate nonce column
// or IV store is needed.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/vidforge/orchestrator/internal/orcherr"
)

const keySize = 32 // AES-256

// Vault seals and opens credential material with a single AES-256-GCM key.
type Vault struct {
	aead cipher.AEAD
}

// New builds a Vault from a raw 32-byte key. Use NewFromBase64 to build one
// from the base64-encoded CRYPTO_KEY value.
func New(key []byte) (*Vault, error) {
	if len(key) != keySize {
		return nil, &orcherr.ValidationError{
			Field:  "CRYPTO_KEY",
			Reason: fmt.Sprintf("must decode to %d bytes, got %d", keySize, len(key)),
		}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build aes cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build gcm aead: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// NewFromBase64 builds a Vault from a standard-base64-encoded 32-byte key,
// the form expected in the CRYPTO_KEY environment variable.
func NewFromBase64(encoded string) (*Vault, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &orcherr.ValidationError{
			Field:  "CRYPTO_KEY",
			Reason: "not valid base64: " + err.Error(),
		}
	}
	return New(key)
}

// Seal encrypts plaintext and returns a base64-encoded, self-describing
// ciphertext (nonce || ciphertext || tag).
func (v *Vault) Seal(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a ciphertext produced by Seal. Returns a non-retriable
// AuthError if the ciphertext was truncated or fails authentication —
// callers should treat this as a corrupted or tampered credential, not a
// transient failure.
func (v *Vault) Open(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &orcherr.AuthError{Provider: "vault", Reason: "ciphertext not valid base64"}
	}

	nonceSize := v.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", &orcherr.AuthError{Provider: "vault", Reason: "ciphertext shorter than nonce"}
	}

	nonce, body := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", &orcherr.AuthError{Provider: "vault", Reason: "authentication failed: " + err.Error()}
	}

	return string(plaintext), nil
}
