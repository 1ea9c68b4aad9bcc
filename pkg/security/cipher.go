package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks values produced by Seal. Values without it are legacy plaintext.
const sealedPrefix = "enc:v1:"

// PasswordCipher encrypts stored account passwords with AES-256-GCM.
// A zero-key cipher passes values through unchanged.
type PasswordCipher struct {
	gcm cipher.AEAD
}

// NewPasswordCipher builds a cipher from a base64 encoded 32-byte key. An empty key disables encryption.
func NewPasswordCipher(encodedKey string) (*PasswordCipher, error) {
	if encodedKey == "" {
		return &PasswordCipher{}, nil
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &PasswordCipher{gcm: gcm}, nil
}

// Enabled reports whether a key is configured
func (c *PasswordCipher) Enabled() bool {
	return c != nil && c.gcm != nil
}

// Seal encrypts plaintext into "enc:v1:" + base64(nonce|ciphertext)
func (c *PasswordCipher) Seal(plaintext string) (string, error) {
	if !c.Enabled() {
		return plaintext, nil
	}
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Unprefixed values are returned as is.
func (c *PasswordCipher) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if !c.Enabled() {
		return "", errors.New("encrypted password found but no master key configured")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	nonceSize := c.gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	plain, err := c.gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}
