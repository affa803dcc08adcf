// Package secrets encrypts provider credentials at rest with AES-GCM.
// Ciphertext format: base64(nonce || sealed), 12-byte nonce. The key comes
// from APP_SECRETS_KEY and may be base64, hex, or a raw 16/24/32-byte string.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

// EnvKeyName is the environment variable holding the encryption key.
const EnvKeyName = "APP_SECRETS_KEY"

var errBadKey = errors.New("secrets: " + EnvKeyName + " must decode to 16/24/32 bytes (AES-128/192/256)")

// Cipher seals and opens account secrets with a fixed process-wide key.
type Cipher struct {
	key []byte
}

// NewFromEnv builds a Cipher from APP_SECRETS_KEY. Fails when the variable
// is missing or does not decode to a valid AES key length.
func NewFromEnv() (*Cipher, error) {
	raw := os.Getenv(EnvKeyName)
	if raw == "" {
		return nil, fmt.Errorf("secrets: %s env var is required (32 bytes, base64/hex/raw)", EnvKeyName)
	}
	key, err := decodeKey(raw)
	if err != nil {
		return nil, err
	}
	return &Cipher{key: key}, nil
}

// New builds a Cipher from an explicit key, mainly for tests.
func New(key []byte) (*Cipher, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, errBadKey
	}
	return &Cipher{key: key}, nil
}

func decodeKey(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil && validKeyLen(len(b)) {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && validKeyLen(len(b)) {
		return b, nil
	}
	if b := []byte(s); validKeyLen(len(b)) {
		return b, nil
	}
	return nil, errBadKey
}

func validKeyLen(n int) bool { return n == 16 || n == 24 || n == 32 }

// Encrypt seals plaintext and returns the base64 token stored in *_enc
// columns.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a base64 token produced by Encrypt.
func (c *Cipher) Decrypt(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("secrets: decode token: %w", err)
	}
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("secrets: token too short")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: open: %w", err)
	}
	return string(pt), nil
}

func (c *Cipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
