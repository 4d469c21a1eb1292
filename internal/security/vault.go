// Package security provides at-rest encryption for broker tokens, secret
// masking for logs and an append-only audit trail.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionKeySize is the size of the AES-256 key in bytes.
	EncryptionKeySize = 32
	// SaltSize is the size of the salt for key derivation.
	SaltSize = 16
	// NonceSize is the size of the GCM nonce.
	NonceSize = 12
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000

	sealVersion byte = 1
)

var (
	// ErrEmptyPassphrase is returned when a vault is created without a passphrase.
	ErrEmptyPassphrase = errors.New("vault passphrase is empty")
	// ErrCorruptSeal is returned when a sealed value cannot be decoded or authenticated.
	ErrCorruptSeal = errors.New("sealed value is corrupt or was sealed with another passphrase")
)

// Vault seals short secrets (broker access tokens) with AES-256-GCM under a
// key derived from a passphrase. Every seal uses a fresh salt and nonce, so
// sealing the same token twice yields different output.
//
// Sealed layout, base64 (raw URL alphabet):
//
//	version(1) | salt(16) | nonce(12) | ciphertext+tag
type Vault struct {
	passphrase string
}

// NewVault creates a vault for the given passphrase.
func NewVault(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	return &Vault{passphrase: passphrase}, nil
}

// Seal encrypts plaintext and returns the encoded blob.
func (v *Vault) Seal(plaintext string) (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	nonce, ciphertext, err := encrypt([]byte(plaintext), deriveKey(v.passphrase, salt))
	if err != nil {
		return "", err
	}

	blob := make([]byte, 0, 1+SaltSize+NonceSize+len(ciphertext))
	blob = append(blob, sealVersion)
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	return base64.RawURLEncoding.EncodeToString(blob), nil
}

// Open reverses Seal.
func (v *Vault) Open(sealed string) (string, error) {
	blob, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptSeal, err)
	}
	if len(blob) < 1+SaltSize+NonceSize+1 || blob[0] != sealVersion {
		return "", ErrCorruptSeal
	}

	salt := blob[1 : 1+SaltSize]
	nonce := blob[1+SaltSize : 1+SaltSize+NonceSize]
	ciphertext := blob[1+SaltSize+NonceSize:]

	plaintext, err := decrypt(ciphertext, deriveKey(v.passphrase, salt), nonce)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptSeal, err)
	}
	return string(plaintext), nil
}

// deriveKey derives an encryption key from a password using PBKDF2.
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
}

// encrypt encrypts plaintext using AES-256-GCM.
func encrypt(plaintext, key []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// decrypt decrypts ciphertext using AES-256-GCM.
func decrypt(ciphertext, key, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm.Open(nil, nonce, ciphertext, nil)
}
