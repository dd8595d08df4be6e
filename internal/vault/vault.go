// Package vault encrypts provider credentials before they reach the database.
// Access tokens and webhook secrets are sealed with AES-256-GCM, so a leaked
// database dump does not expose usable credentials, and any tampering with a
// stored value is detected at decryption time.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrDecryption is returned whenever a stored value cannot be authenticated
// and decrypted: wrong key, truncated or corrupted ciphertext, or data that
// was never produced by this vault. Callers match it with errors.Is.
var ErrDecryption = errors.New("vault: decryption failed")

const keySize = 32

// Vault seals and opens credential strings with a single symmetric key.
type Vault struct {
	aead cipher.AEAD
}

// New creates a Vault from the configured key. A 64-character hex string is
// used directly as the 32-byte key; anything else is treated as a passphrase
// and run through SHA-256.
func New(key string) (*Vault, error) {
	if key == "" {
		return nil, errors.New("vault: key is required")
	}

	raw := deriveKey(key)

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	return &Vault{aead: aead}, nil
}

func deriveKey(key string) []byte {
	if len(key) == keySize*2 {
		if raw, err := hex.DecodeString(key); err == nil {
			return raw
		}
	}
	sum := sha256.Sum256([]byte(key))
	return sum[:]
}

// Encrypt seals plaintext and returns a base64 token of nonce||ciphertext.
// Encrypting the same plaintext twice yields different tokens.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("vault: empty plaintext")
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt. Any malformed, truncated or
// tampered input fails with ErrDecryption; a successful return is guaranteed
// to be the exact plaintext that was sealed.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryption
	}

	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize+1 {
		return "", ErrDecryption
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryption
	}

	return string(plaintext), nil
}
