// Package crypto provides AES-256-GCM encryption for data stored at rest:
// user secrets and provider tokens.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// KeySize is the required size for AES-256 keys (32 bytes)
	KeySize = 32
)

var (
	ErrInvalidKeySize     = errors.New("encryption key must be 32 bytes for AES-256")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptionFailed   = errors.New("decryption failed: authentication error")
)

// Encryptor seals and opens values with AES-256-GCM. Safe for concurrent use.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates a new Encryptor with the given key.
// Key must be exactly 32 bytes for AES-256.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{aead: aead}, nil
}

// NewEncryptorFromBase64 creates a new Encryptor from a base64-encoded key.
func NewEncryptorFromBase64(encodedKey string) (*Encryptor, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}
	return NewEncryptor(key)
}

// Encrypt encrypts plaintext. Returns base64-encoded ciphertext with the nonce prepended.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	return e.SealFor(plaintext, "")
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(encodedCiphertext string) (string, error) {
	return e.OpenFor(encodedCiphertext, "")
}

// SealFor encrypts plaintext and binds the ciphertext to subject, so a value
// copied onto another row fails to open.
func (e *Encryptor) SealFor(plaintext, subject string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.aead.Seal(nonce, nonce, []byte(plaintext), []byte(subject))
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// OpenFor decrypts a value produced by SealFor with the same subject.
func (e *Encryptor) OpenFor(encodedCiphertext, subject string) (string, error) {
	if encodedCiphertext == "" {
		return "", nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encodedCiphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	plaintext, err := e.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], []byte(subject))
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// GenerateKey generates a new random 32-byte key for AES-256.
// Returns the key as a base64-encoded string.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// GenerateKeyBytes generates a new random 32-byte key for AES-256.
func GenerateKeyBytes() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// LoadOrCreateKey resolves the encryption key: an explicit key wins, then the
// key file. When neither exists a new key is generated and written to keyFile.
// The created flag reports whether that happened.
func LoadOrCreateKey(explicit, keyFile string) (key string, created bool, err error) {
	if explicit != "" {
		return explicit, false, nil
	}
	if keyFile == "" {
		return "", false, errors.New("no encryption key configured and no key file path set")
	}

	if data, err := os.ReadFile(keyFile); err == nil {
		return strings.TrimSpace(string(data)), false, nil
	} else if !os.IsNotExist(err) {
		return "", false, fmt.Errorf("failed to read key file %s: %w", keyFile, err)
	}

	newKey, err := GenerateKey()
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(keyFile, []byte(newKey), 0600); err != nil {
		return "", false, fmt.Errorf("failed to save encryption key to %s: %w", keyFile, err)
	}
	return newKey, true, nil
}
