package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
)

// SecretBox seals small blobs (the auth session) for at-rest storage using
// XChaCha20-Poly1305. The sealed form is nonce || ciphertext.
type SecretBox struct {
	key []byte
}

// NewSecretBox creates a box from a 32-byte key.
func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("secret box: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &SecretBox{key: append([]byte(nil), key...)}, nil
}

// LoadOrCreateKey reads the hex-encoded key at path, generating and
// persisting a fresh one (mode 0600) on first use.
func LoadOrCreateKey(path string) ([]byte, error) {
	if raw, err := os.ReadFile(path); err == nil {
		key, err := hex.DecodeString(string(raw))
		if err != nil || len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("secret box: corrupt key file %s", path)
		}
		return key, nil
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("secret box: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("secret box: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("secret box: %w", err)
	}
	return key, nil
}

// Seal encrypts plain with a random nonce.
func (b *SecretBox) Seal(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

// Open decrypts a sealed blob.
func (b *SecretBox) Open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("secret box: sealed blob too short")
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("secret box: %w", err)
	}
	return plain, nil
}
